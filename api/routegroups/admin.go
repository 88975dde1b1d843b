package routegroups

import (
	"github.com/go-chi/chi/v5"

	"vigil-eoc/api/handlers"
)

func RegisterLogs(apiRouter chi.Router, g Guards, logs *handlers.LogsHandler) {
	apiRouter.Route("/logs", func(logsRouter chi.Router) {
		logsRouter.MethodFunc("GET", "/", g.SessionPerm("admin.logs", logs.List))
		logsRouter.MethodFunc("GET", "/export", g.SessionPerm("admin.logs", logs.Export))
	})
}

func RegisterAccounts(apiRouter chi.Router, g Guards, accounts *handlers.AccountsHandler) {
	apiRouter.Route("/accounts", func(accountsRouter chi.Router) {
		accountsRouter.MethodFunc("GET", "/", g.SessionPerm("accounts.manage", accounts.List))
		accountsRouter.MethodFunc("POST", "/", g.SessionPerm("accounts.manage", accounts.Create))
		accountsRouter.MethodFunc("POST", "/{id:[0-9]+}/active", g.SessionPerm("accounts.manage", accounts.SetActive))
		accountsRouter.MethodFunc("POST", "/{id:[0-9]+}/password", g.SessionPerm("accounts.manage", accounts.ResetPassword))
	})
}
