package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/rbac"
	"vigil-eoc/core/store"
	"vigil-eoc/core/utils"
)

type AccountsHandler struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionsStore
	sessionManager *auth.SessionManager
	audits         store.AuditStore
	logger         *utils.Logger
}

func NewAccountsHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionsStore, sm *auth.SessionManager, audits store.AuditStore, logger *utils.Logger) *AccountsHandler {
	return &AccountsHandler{
		cfg:            cfg,
		users:          users,
		sessions:       sessions,
		sessionManager: sm,
		audits:         audits,
		logger:         logger,
	}
}

type accountDTO struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Active      bool       `json:"active"`
	Locked      bool       `json:"locked"`
	Roles       []string   `json:"roles"`
	Online      bool       `json:"online"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type accountPayload struct {
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	lastSeen := h.lastSeenByUser(ctx)
	now := time.Now().UTC()
	window := time.Duration(h.cfg.Security.OnlineWindowSec) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	cutoff := now.Add(-window)

	items := make([]accountDTO, 0, len(users))
	online := 0
	for i := range users {
		u := &users[i]
		dto := accountDTO{
			ID:          u.ID,
			Email:       u.Email,
			FullName:    u.FullName,
			Active:      u.IsActive,
			Locked:      u.Locked(now),
			Roles:       u.Roles,
			LastLoginAt: u.LastLoginAt,
			CreatedAt:   u.CreatedAt,
		}
		if seen, ok := lastSeen[u.ID]; ok {
			seenAt := seen
			dto.LastSeenAt = &seenAt
			dto.Online = u.IsActive && seen.After(cutoff)
		}
		if dto.Online {
			online++
		}
		items = append(items, dto)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  len(items),
		"online": online,
	})
}

// lastSeenByUser folds the session table into newest activity per user.
func (h *AccountsHandler) lastSeenByUser(ctx context.Context) map[int64]time.Time {
	out := map[int64]time.Time{}
	if h.sessions == nil {
		return out
	}
	sessions, err := h.sessions.ListSessions(ctx)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("accounts list sessions: %v", err)
		}
		return out
	}
	for _, s := range sessions {
		if prev, ok := out[s.UserID]; !ok || s.LastActivityAt.After(prev) {
			out[s.UserID] = s.LastActivityAt.UTC()
		}
	}
	return out
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess := sessionFromCtx(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var p accountPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		if h.logger != nil {
			h.logger.Errorf("accounts create decode: %v", err)
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email := utils.NormalizeEmail(p.Email)
	if err := utils.ValidateEmail(email); err != nil {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return
	}
	fullName := strings.TrimSpace(p.FullName)
	if fullName == "" {
		http.Error(w, "full name required", http.StatusBadRequest)
		return
	}
	if existing, err := h.users.GetUserByEmail(ctx, email); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if existing != nil {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}

	password := strings.TrimSpace(p.Password)
	generated := false
	if password == "" {
		password, _ = utils.RandString(16)
		generated = true
	}
	if err := utils.ValidatePassword(password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	user := &store.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		IsActive:     true,
		Roles:        sanitizeRoles(p.Roles),
	}
	id, err := h.users.CreateUser(ctx, user)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("accounts create %s: %v", email, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user.ID = id
	h.audits.Log(ctx, sess.Email, "accounts.create", email+" roles="+strings.Join(user.Roles, ","))

	resp := map[string]any{"user": h.accountView(user, time.Now().UTC())}
	if generated {
		resp["temp_password"] = password
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *AccountsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess := sessionFromCtx(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var p struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if sess.UserID == id && !p.Active {
		h.audits.Log(ctx, sess.Email, "accounts.self_lockout_blocked", strconv.FormatInt(id, 10))
		http.Error(w, "cannot deactivate own account", http.StatusBadRequest)
		return
	}
	target, err := h.users.GetUserByID(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.users.SetUserActive(ctx, id, p.Active); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	target.IsActive = p.Active
	action := "accounts.disable"
	if p.Active {
		action = "accounts.enable"
	} else {
		// A deactivated operator loses every live session immediately.
		if err := h.sessionManager.DeleteForUser(ctx, id); err != nil && h.logger != nil {
			h.logger.Errorf("accounts deactivate sessions user=%d: %v", id, err)
		}
	}
	h.audits.Log(ctx, sess.Email, action, target.Email)
	writeJSON(w, http.StatusOK, map[string]any{"user": h.accountView(target, time.Now().UTC())})
}

func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess := sessionFromCtx(r)
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, _ := strconv.ParseInt(pathParams(r)["id"], 10, 64)
	var p struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target, err := h.users.GetUserByID(ctx, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	password := strings.TrimSpace(p.Password)
	generated := false
	if password == "" {
		password, _ = utils.RandString(16)
		generated = true
	}
	if err := utils.ValidatePassword(password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := auth.HashPassword(password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.users.UpdatePassword(ctx, id, hash); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	// Every open session of the target dies with the old password.
	if err := h.sessionManager.DeleteForUser(ctx, id); err != nil && h.logger != nil {
		h.logger.Errorf("accounts reset sessions user=%d: %v", id, err)
	}
	h.audits.Log(ctx, sess.Email, "accounts.reset_password", target.Email)

	resp := map[string]any{"status": "ok"}
	if generated {
		resp["temp_password"] = password
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AccountsHandler) accountView(u *store.User, now time.Time) accountDTO {
	return accountDTO{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Active:      u.IsActive,
		Locked:      u.Locked(now),
		Roles:       u.Roles,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// sanitizeRoles keeps only roles the policy knows, lowercased and
// deduplicated. An empty result falls back to responder.
func sanitizeRoles(in []string) []string {
	known := map[string]struct{}{
		rbac.RoleAdmin:     {},
		rbac.RoleResponder: {},
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, role := range in {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := known[role]; !ok {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	if len(out) == 0 {
		out = append(out, rbac.RoleResponder)
	}
	return out
}
