package bootstrap

import (
	"context"
	"strings"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

type seedAccount struct {
	email    string
	name     string
	password string
	roles    []string
}

// EnsureDefaultUsers creates the demo admin and responder accounts when
// they are missing. Existing rows are never touched, so a rotated
// password survives restarts.
func EnsureDefaultUsers(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	if users == nil || cfg == nil || !cfg.Bootstrap.SeedDemoAccounts {
		return nil
	}
	seeds := []seedAccount{
		{
			email:    cfg.Bootstrap.AdminEmail,
			name:     cfg.Bootstrap.AdminName,
			password: cfg.Bootstrap.AdminPassword,
			roles:    []string{rbac.RoleAdmin},
		},
		{
			email:    cfg.Bootstrap.ResponderEmail,
			name:     cfg.Bootstrap.ResponderName,
			password: cfg.Bootstrap.ResponderPassword,
			roles:    []string{rbac.RoleResponder},
		},
	}
	for _, seed := range seeds {
		email := utils.NormalizeEmail(seed.email)
		if email == "" || strings.TrimSpace(seed.password) == "" {
			continue
		}
		existing, err := users.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		hash, err := auth.HashPassword(seed.password, cfg.Pepper)
		if err != nil {
			return err
		}
		user := &store.User{
			Email:        email,
			FullName:     strings.TrimSpace(seed.name),
			PasswordHash: hash,
			IsActive:     true,
			Roles:        seed.roles,
		}
		if _, err := users.CreateUser(ctx, user); err != nil {
			return err
		}
		if logger != nil {
			logger.Printf("bootstrap: seeded %s (%s)", email, strings.Join(seed.roles, ","))
		}
	}
	return nil
}
