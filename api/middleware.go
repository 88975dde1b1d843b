package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"vigil-eoc/config"
	"vigil-eoc/core/auth"
	"vigil-eoc/core/rbac"
)

const (
	sessionCookie               = "vigil_session"
	csrfCookie                  = "vigil_csrf"
	sessionActivityInterval     = 30 * time.Second
	loginPayloadMaxBytes        = 64 * 1024
	loginLimiterTTL             = 10 * time.Minute
	loginLimiterCleanupInterval = time.Minute
	loginLimiterMaxBuckets      = 10000
)

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if s.logger != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
			}
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

var baseSecurityHeaders = map[string]string{
	"Content-Security-Policy": "default-src 'self'; style-src 'self'; script-src 'self'; img-src 'self' data:; object-src 'none'; frame-ancestors 'self'",
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "SAMEORIGIN",
	"Referrer-Policy":         "no-referrer",
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range baseSecurityHeaders {
			w.Header().Set(name, value)
		}
		if isHTTPSRequest(r, s.cfg) {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.logger != nil {
			s.logger.Printf("REQ %s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		trace := &responseTrace{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(trace, r)
		if s.logger == nil {
			return
		}
		user := "-"
		if sess := auth.FromContext(r.Context()); sess != nil {
			user = sess.Email
		}
		s.logger.Printf("RESP %s %s user=%s status=%d dur=%s bytes=%d",
			r.Method, r.URL.Path, user, trace.status, time.Since(start), trace.size)
	})
}

type responseTrace struct {
	http.ResponseWriter
	status int
	size   int
}

func (t *responseTrace) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTrace) Write(b []byte) (int, error) {
	n, err := t.ResponseWriter.Write(b)
	t.size += n
	return n, err
}

// withSession authenticates the request from the session cookie, checks
// the CSRF pair on mutating verbs and slides the session's activity at
// most once per throttle interval.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			s.authFail(r, "missing cookie", "")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sess, err := s.sessionManager.Resolve(r.Context(), cookie.Value)
		if err != nil || sess == nil {
			s.authFail(r, "session not resolved", "")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if mutatingMethod(r.Method) && !csrfValid(r, sess) {
			s.authFail(r, "csrf", sess.Email)
			http.Error(w, "csrf invalid", http.StatusForbidden)
			return
		}
		now := time.Now().UTC()
		if s.activityTracker == nil || s.activityTracker.shouldUpdate(sess.ID, now, s.refreshInterval()) {
			_ = s.sessionManager.Refresh(r.Context(), sess.ID)
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	}
}

func (s *Server) authFail(r *http.Request, reason, user string) {
	if s.logger == nil {
		return
	}
	if user == "" {
		s.logger.Printf("AUTH fail (%s) %s %s", reason, r.Method, r.URL.Path)
		return
	}
	s.logger.Printf("AUTH fail (%s) %s %s user=%s", reason, r.Method, r.URL.Path, user)
}

func mutatingMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// csrfValid requires the header, the cookie and the session token to
// agree. The double submit catches a stolen cookie without its header.
func csrfValid(r *http.Request, sess *auth.Session) bool {
	header := r.Header.Get("X-CSRF-Token")
	if header == "" || header != sess.CSRFToken {
		return false
	}
	cookie, err := r.Cookie(csrfCookie)
	return err == nil && cookie != nil && cookie.Value == header
}

// refreshInterval derives the activity-write throttle from the online
// window, clamped between the base interval and one minute.
func (s *Server) refreshInterval() time.Duration {
	if s.cfg == nil || s.cfg.Security.OnlineWindowSec <= 0 {
		return sessionActivityInterval
	}
	interval := time.Duration(s.cfg.Security.OnlineWindowSec/2) * time.Second
	if interval < sessionActivityInterval {
		return sessionActivityInterval
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sess := auth.FromContext(r.Context())
			if sess == nil {
				if s.logger != nil {
					s.logger.Printf("PERM fail (no session) %s %s need=%s", r.Method, r.URL.Path, perm)
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !s.policy.Allowed(sess.Roles, perm) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s user=%s roles=%v need=%s", r.Method, r.URL.Path, sess.Email, sess.Roles, perm)
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// rateLimitMiddleware throttles login attempts per source IP and per
// target account, so a distributed guess against one account trips the
// account bucket even when every request arrives from a fresh address.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, loginPayloadMaxBytes+1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var cred auth.Credentials
		_ = json.Unmarshal(body, &cred)
		if !s.loginLimiter.allow(strings.ToLower(s.clientIP(r))) {
			http.Error(w, "too many attempts", http.StatusTooManyRequests)
			return
		}
		if email := strings.ToLower(strings.TrimSpace(cred.Email)); email != "" {
			if !s.loginLimiter.allow("user|" + email) {
				http.Error(w, "too many attempts", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

// requestLimiter admits up to capacity hits per key per refill window.
// Buckets idle past the TTL are dropped; a hard bucket cap bounds the
// map when keys are attacker-chosen.
type requestLimiter struct {
	mu              sync.Mutex
	buckets         map[string]*loginBucket
	capacity        int
	refill          time.Duration
	ttl             time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	maxBuckets      int
}

type loginBucket struct {
	windowStart time.Time
	used        int
	lastSeen    time.Time
}

func newLimiter(capacity int, refill time.Duration) *requestLimiter {
	return &requestLimiter{
		buckets:         make(map[string]*loginBucket),
		capacity:        capacity,
		refill:          refill,
		ttl:             loginLimiterTTL,
		cleanupInterval: loginLimiterCleanupInterval,
		maxBuckets:      loginLimiterMaxBuckets,
	}
}

func (l *requestLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if l.cleanupInterval > 0 && now.Sub(l.lastCleanup) >= l.cleanupInterval {
		l.evict(now)
		l.lastCleanup = now
	}
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &loginBucket{windowStart: now, used: 1, lastSeen: now}
		return true
	}
	b.lastSeen = now
	if now.Sub(b.windowStart) >= l.refill {
		b.windowStart = now
		b.used = 0
	}
	if b.used >= l.capacity {
		return false
	}
	b.used++
	return true
}

func (l *requestLimiter) evict(now time.Time) {
	if l.ttl > 0 {
		for key, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.buckets, key)
			}
		}
	}
	if l.maxBuckets <= 0 {
		return
	}
	for len(l.buckets) > l.maxBuckets {
		victim := ""
		var victimSeen time.Time
		for key, b := range l.buckets {
			if victim == "" || b.lastSeen.Before(victimSeen) {
				victim = key
				victimSeen = b.lastSeen
			}
		}
		if victim == "" {
			return
		}
		delete(l.buckets, victim)
	}
}

// sessionActivity throttles per-session activity writes so a chatty
// dashboard tab does not hammer the sessions table.
type sessionActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newSessionActivity() *sessionActivity {
	return &sessionActivity{last: map[string]time.Time{}}
}

func (sa *sessionActivity) shouldUpdate(id string, now time.Time, interval time.Duration) bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	if last, ok := sa.last[id]; ok && now.Sub(last) < interval {
		return false
	}
	sa.last[id] = now
	return true
}

// clientIP resolves the caller address. Forwarding headers are only
// believed when the direct peer is a trusted proxy; the XFF chain is
// walked right to left and the first hop outside the proxy set wins.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if s == nil || s.cfg == nil {
		return ip
	}
	proxies := proxySet(s.cfg.Security.TrustedProxies)
	if !proxies.contains(ip) {
		return ip
	}
	if hop := firstForeignHop(r.Header.Get("X-Forwarded-For"), proxies); hop != "" {
		return hop
	}
	if realIP := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); realIP != nil {
		return realIP.String()
	}
	return ip
}

func firstForeignHop(xff string, proxies proxySet) string {
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

// proxySet holds trusted proxy entries, each a single address or a CIDR
// block.
type proxySet []string

func (p proxySet) contains(ip string) bool {
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

func isHTTPSRequest(r *http.Request, cfg *config.AppConfig) bool {
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
	if !proxySet(cfg.Security.TrustedProxies).contains(strings.TrimSpace(remoteIP)) {
		return false
	}
	proto := strings.SplitN(r.Header.Get("X-Forwarded-Proto"), ",", 2)[0]
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
