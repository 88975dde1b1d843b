package appbootstrap

import (
	"context"

	"vigil-eoc/api"
	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/bootstrap"
	"vigil-eoc/core/incident"
	"vigil-eoc/core/notify"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/tasks"
	"vigil-eoc/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

// centerSink forwards committed engine events into the notification
// feed. The engine publishes outside its lock, so the mirror write in
// Push cannot stall a mutation.
type centerSink struct {
	center *notify.Center
}

func (s centerSink) Publish(evt incident.Event) {
	if s.center == nil {
		return
	}
	s.center.Push(context.Background(), notify.Notification{
		IncidentID: evt.IncidentID,
		Kind:       evt.Kind,
		Title:      evt.Title,
		Body:       evt.Body,
	})
}

func composeRuntime(ctx context.Context, cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db, logger)
	incidents := store.NewIncidentsStore(db)
	notifications := store.NewNotificationsStore(db)

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, users, cfg, logger)
	center := notify.NewCenter(cfg.Notifications.FeedLimit, notifications, logger)

	engine := incident.NewEngine(incident.EngineConfig{
		Policy:         policy,
		Mirror:         incidents,
		Sink:           centerSink{center: center},
		Logger:         logger,
		RegNoFormat:    cfg.Incidents.RegNoFormat,
		PersistTimeout: cfg.PersistTimeout(),
		RetryBackoff:   cfg.PersistRetryBackoff(),
	})
	if err := warmStart(ctx, engine, center, incidents, notifications, cfg); err != nil {
		return nil, err
	}
	if err := bootstrap.EnsureDefaultUsers(ctx, users, cfg, logger); err != nil {
		return nil, err
	}

	scheduler := tasks.NewScheduler(logger)
	if cfg.Simulator.Enabled {
		scheduler.Register("pulse", cfg.Simulator.Schedule, func(ctx context.Context) error {
			engine.SimulatePulse(ctx, cfg.Simulator.MaxPerTick)
			return nil
		})
	}
	scheduler.Register("session-sweep", "@hourly", func(ctx context.Context) error {
		_, err := sessionManager.PurgeExpired(ctx)
		return err
	})

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:            cfg,
			Logger:         logger,
			Policy:         policy,
			Engine:         engine,
			Center:         center,
			Users:          users,
			Sessions:       sessions,
			Audits:         audits,
			SessionManager: sessionManager,
		},
		workers: []api.BackgroundWorker{scheduler},
	}, nil
}

// warmStart replays the persisted mirror into the in-memory authority.
// A readable database is required at boot; from then on persistence is
// best effort.
func warmStart(ctx context.Context, engine *incident.Engine, center *notify.Center, incidents store.IncidentsStore, notifications store.NotificationsStore, cfg *config.AppConfig) error {
	rows, err := incidents.ListIncidents(ctx)
	if err != nil {
		return err
	}
	notes, err := incidents.ListNotes(ctx)
	if err != nil {
		return err
	}
	activity, err := incidents.ListActivity(ctx)
	if err != nil {
		return err
	}
	counters, err := incidents.LoadRegCounters(ctx)
	if err != nil {
		return err
	}
	engine.Seed(rows, notes, activity, counters)

	feed, err := notifications.ListNotifications(ctx, cfg.Notifications.FeedLimit)
	if err != nil {
		return err
	}
	center.Seed(feed)
	return nil
}
