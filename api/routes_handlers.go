package api

import "vigil-eoc/api/handlers"

type routeHandlers struct {
	auth          *handlers.AuthHandler
	incidents     *handlers.IncidentsHandler
	notifications *handlers.NotificationsHandler
	logs          *handlers.LogsHandler
	accounts      *handlers.AccountsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:          handlers.NewAuthHandler(s.cfg, s.users, s.sessionManager, s.policy, s.audits, s.logger),
		incidents:     handlers.NewIncidentsHandler(s.cfg, s.engine, s.audits, s.logger),
		notifications: handlers.NewNotificationsHandler(s.center, s.audits),
		logs:          handlers.NewLogsHandler(s.audits),
		accounts:      handlers.NewAccountsHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.audits, s.logger),
	}
}
