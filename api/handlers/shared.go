package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/incident"
)

const (
	SessionCookieName = "vigil_session"
	CSRFCookieName    = "vigil_csrf"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEngineError maps the lifecycle error taxonomy onto HTTP statuses.
// Unknown errors fall through to a plain 500.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		notFound    *incident.NotFoundError
		validation  *incident.ValidationError
		transition  *incident.InvalidTransitionError
		permission  *incident.PermissionError
		persistence *incident.PersistenceError
	)
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": notFound.Error()})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": validation.Error()})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "invalid_transition", "message": transition.Error()})
	case errors.As(err, &permission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission", "message": permission.Error()})
	case errors.As(err, &persistence):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "persistence", "message": persistence.Error()})
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func sessionFromCtx(r *http.Request) *auth.Session {
	return auth.FromContext(r.Context())
}

// actorFromCtx projects the request session onto the engine's actor.
// The guard middleware runs first, so a nil session means a wiring bug
// and the caller answers 401.
func actorFromCtx(r *http.Request) (incident.Actor, *auth.Session, bool) {
	sess := auth.FromContext(r.Context())
	if sess == nil {
		return incident.Actor{}, nil, false
	}
	return incident.Actor{ID: sess.UserID, Name: sess.Name, Roles: sess.Roles}, sess, true
}

func parseIntDefault(val string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return def
	}
	return v
}

// issueSessionCookies sets the cookie pair for a fresh session. The
// session cookie is HttpOnly; the CSRF cookie stays readable so the
// frontend can echo it back in X-CSRF-Token.
func issueSessionCookies(w http.ResponseWriter, secure bool, sess *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    sess.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
}

func expireSessionCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientIP resolves the caller address for audit rows and session
// records. Forwarding headers are only believed when the direct peer is
// a trusted proxy.
func clientIP(r *http.Request, cfg *config.AppConfig) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if cfg == nil {
		return ip
	}
	proxies := trustedProxies(cfg.Security.TrustedProxies)
	if !proxies.contains(ip) {
		return ip
	}
	if hop := foreignHop(r.Header.Get("X-Forwarded-For"), proxies); hop != "" {
		return hop
	}
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != nil {
		return realIP.String()
	}
	return ip
}

func isSecureRequest(r *http.Request, cfg *config.AppConfig) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if cfg == nil {
		return false
	}
	if cfg.TLSEnabled {
		return true
	}
	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	if !trustedProxies(cfg.Security.TrustedProxies).contains(strings.TrimSpace(remoteIP)) {
		return false
	}
	proto := strings.SplitN(r.Header.Get("X-Forwarded-Proto"), ",", 2)[0]
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// foreignHop walks the XFF chain right to left and returns the first
// address outside the proxy set.
func foreignHop(xff string, proxies trustedProxies) string {
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		parsed := net.ParseIP(strings.TrimSpace(hops[i]))
		if parsed == nil {
			continue
		}
		if candidate := parsed.String(); !proxies.contains(candidate) {
			return candidate
		}
	}
	return ""
}

// trustedProxies holds proxy entries, each a single address or a CIDR
// block.
type trustedProxies []string

func (p trustedProxies) contains(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range p {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, block, err := net.ParseCIDR(entry); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(entry)) {
			return true
		}
	}
	return false
}
