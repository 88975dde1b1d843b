package routegroups

import (
	"github.com/go-chi/chi/v5"

	"vigil-eoc/api/handlers"
)

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler) {
	apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.SessionPerm("incidents.view", incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.SessionPerm("incidents.report", incidents.Create))
		incidentsRouter.MethodFunc("GET", "/stats", g.SessionPerm("incidents.view", incidents.Stats))
		incidentsRouter.MethodFunc("GET", "/map", g.SessionPerm("incidents.view", incidents.MapMarkers))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("incidents.view", incidents.Get))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/verify", g.SessionPerm("incidents.verify", incidents.Verify))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/false", g.SessionPerm("incidents.triage", incidents.MarkFalse))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/duplicate", g.SessionPerm("incidents.triage", incidents.MarkDuplicate))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/status", g.SessionPerm("incidents.progress", incidents.SetStatus))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/severity", g.SessionPerm("incidents.severity", incidents.SetSeverity))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/assign", g.SessionPerm("incidents.assign", incidents.Assign))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/upvote", g.SessionPerm("incidents.upvote", incidents.Upvote))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/notes", g.SessionPerm("incidents.view", incidents.ListNotes))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/notes", g.SessionPerm("incidents.notes", incidents.AddNote))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/activity", g.SessionPerm("incidents.view", incidents.ListActivity))
	})
}

func RegisterNotifications(apiRouter chi.Router, g Guards, notifications *handlers.NotificationsHandler) {
	apiRouter.Route("/notifications", func(notificationsRouter chi.Router) {
		notificationsRouter.MethodFunc("GET", "/", g.SessionPerm("notifications.view", notifications.List))
		notificationsRouter.MethodFunc("GET", "/unread-count", g.SessionPerm("notifications.view", notifications.UnreadCount))
		notificationsRouter.MethodFunc("POST", "/{id}/read", g.SessionPerm("notifications.view", notifications.MarkRead))
	})
}
