package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

type AuthHandler struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessionManager *auth.SessionManager
	policy         *rbac.Policy
	audits         store.AuditStore
	logger         *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sm *auth.SessionManager, policy *rbac.Policy, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessionManager: sm, policy: policy, audits: audits, logger: logger}
}

type userDTO struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Active      bool       `json:"active"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (h *AuthHandler) userPayload(u *store.User) userDTO {
	perms := h.policy.PermissionsForRoles(u.Roles)
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	return userDTO{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Active:      u.IsActive,
		Roles:       u.Roles,
		Permissions: names,
		LastLoginAt: u.LastLoginAt,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	cred.Email = utils.NormalizeEmail(cred.Email)
	if err := utils.ValidateEmail(cred.Email); err != nil {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return
	}
	user, err := h.users.GetUserByEmail(r.Context(), cred.Email)
	if err != nil || user == nil || !user.IsActive {
		h.audits.Log(r.Context(), cred.Email, "auth.login_failed", "user missing or inactive")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	now := time.Now().UTC()
	if user.Locked(now) {
		h.audits.Log(r.Context(), cred.Email, "auth.login_blocked", "locked until "+user.LockedUntil.UTC().Format(time.RFC3339))
		http.Error(w, "account locked until "+user.LockedUntil.UTC().Format("2006-01-02 15:04"), http.StatusForbidden)
		return
	}
	if !auth.VerifyPassword(user.PasswordHash, cred.Password, h.cfg.Pepper) {
		if lockedUntil := h.recordPasswordMiss(r, user, now); lockedUntil != nil {
			h.audits.Log(r.Context(), cred.Email, "auth.lockout", "until "+lockedUntil.UTC().Format(time.RFC3339))
			http.Error(w, "account locked until "+lockedUntil.UTC().Format("2006-01-02 15:04"), http.StatusForbidden)
			return
		}
		h.audits.Log(r.Context(), cred.Email, "auth.login_failed", "invalid password")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessionManager.Create(r.Context(), user, clientIP(r, h.cfg), r.UserAgent())
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("auth login session create failed for %s: %v", cred.Email, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.users.RecordLoginSuccess(r.Context(), user.ID, now); err != nil && h.logger != nil {
		h.logger.Errorf("record login success for %s: %v", cred.Email, err)
	}
	user.LastLoginAt = &now
	h.audits.Log(r.Context(), user.Email, "auth.login_success", "")
	issueSessionCookies(w, isSecureRequest(r, h.cfg), sess)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       h.userPayload(user),
		"csrf_token": sess.CSRFToken,
		"expires_at": sess.ExpiresAt,
	})
}

// recordPasswordMiss counts the failure and, when the attempt crosses
// the lockout threshold, locks the account and returns the deadline.
func (h *AuthHandler) recordPasswordMiss(r *http.Request, user *store.User, now time.Time) *time.Time {
	attempts := h.cfg.Security.LockoutAttempts
	if attempts <= 0 {
		attempts = 5
	}
	var lockedUntil *time.Time
	if user.FailedLogins+1 >= attempts {
		window := time.Duration(h.cfg.Security.LockoutMinutes) * time.Minute
		if window <= 0 {
			window = 15 * time.Minute
		}
		until := now.Add(window)
		lockedUntil = &until
	}
	if err := h.users.RecordLoginFailure(r.Context(), user.ID, lockedUntil); err != nil && h.logger != nil {
		h.logger.Errorf("record login failure for %s: %v", user.Email, err)
	}
	return lockedUntil
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	actor := ""
	if sess := sessionFromCtx(r); sess != nil {
		actor = sess.Email
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		_ = h.sessionManager.Delete(r.Context(), cookie.Value)
	}
	expireSessionCookies(w, isSecureRequest(r, h.cfg))
	h.audits.Log(r.Context(), actor, "auth.logout", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetUserByID(r.Context(), sess.UserID)
	if err != nil || user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       h.userPayload(user),
		"csrf_token": sess.CSRFToken,
	})
}

// Ping keeps the session warm between page interactions.
func (h *AuthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromCtx(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	now := time.Now().UTC()
	_ = h.sessionManager.Refresh(r.Context(), sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_seen_at": now})
}
