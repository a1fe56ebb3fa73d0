package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	wsadapter "careerxp/adapters/websocket"
	"careerxp/analytics"
	"careerxp/core"
	"careerxp/engine"
	"careerxp/leaderboard"
	"careerxp/realtime"
)

const (
	defaultHistoryLimit     = 50
	defaultLeaderboardLimit = 10
	maxBodyBytes            = 4 << 10
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how often idle client buckets are evicted.
	// Zero keeps every bucket.
	RateLimitCleanup time.Duration

	// Leaderboard backs GET /leaderboard when set.
	Leaderboard leaderboard.Board
	// Stats backs GET /stats/daily when set.
	Stats *analytics.DailyAggregator
	// Ping, if set, is the storage probe used by /healthz.
	Ping func(context.Context) error
}

type awardRequest struct {
	RefID string `json:"ref_id" validate:"omitempty,max=191"`
}

type awardResponse struct {
	Granted   bool               `json:"granted"`
	Reason    core.DeclineReason `json:"reason,omitempty"`
	XP        int64              `json:"xp,omitempty"`
	LeveledUp bool               `json:"leveled_up,omitempty"`
	Profile   *core.Profile      `json:"profile,omitempty"`
}

type userPath struct {
	User   string `validate:"required,max=191"`
	Action string `validate:"omitempty,max=64"`
}

type api struct {
	svc      *engine.Service
	opts     Options
	validate *validator.Validate
}

// NewMux builds an http.Handler exposing the XP REST API and WebSocket stream.
// Routes:
//   - POST {prefix}/users/{id}/xp/{action}   body {"ref_id": "..."} (optional)
//   - GET  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}/history?limit=N
//   - GET  {prefix}/rules
//   - GET  {prefix}/leaderboard?limit=N
//   - GET  {prefix}/stats/daily?day=YYYY-MM-DD
//   - GET  {prefix}/healthz
//   - WS   {prefix}/ws[?user=id]
func NewMux(svc *engine.Service, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, opts: opts, validate: validator.New()}
	mux := http.NewServeMux()

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/healthz"), a.healthCheck)
	mux.HandleFunc(withPrefix(opts.PathPrefix, "/rules"), a.getOnly(a.rules))
	if opts.Leaderboard != nil {
		mux.HandleFunc(withPrefix(opts.PathPrefix, "/leaderboard"), a.getOnly(a.leaderboard))
	}
	if opts.Stats != nil {
		mux.HandleFunc(withPrefix(opts.PathPrefix, "/stats/daily"), a.getOnly(a.dailyStats))
	}

	// WebSocket events
	if hub != nil {
		mux.Handle(withPrefix(opts.PathPrefix, "/ws"), wsadapter.Handler(hub))
	}

	mux.HandleFunc(withPrefix(opts.PathPrefix, "/users/"), a.users)

	var handler http.Handler = mux
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup)
	}
	return handler
}

func (a *api) getOnly(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only GET is supported", nil)
			return
		}
		fn(w, r)
	}
}

func (a *api) users(w http.ResponseWriter, r *http.Request) {
	// split the escaped path so an encoded "/" stays inside its segment
	path := strings.TrimPrefix(r.URL.EscapedPath(), strings.TrimSuffix(a.opts.PathPrefix, "/"))
	parts := split(path, '/')
	if len(parts) < 2 || parts[0] != "users" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
		return
	}
	for i, seg := range parts {
		v, err := url.PathUnescape(seg)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_path", err.Error(), nil)
			return
		}
		parts[i] = v
	}
	p := userPath{User: strings.TrimSpace(parts[1])}
	if len(parts) == 4 {
		p.Action = parts[3]
	}
	if err := a.validate.Struct(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_path", err.Error(), nil)
		return
	}
	user := core.UserID(p.User)

	switch {
	case r.Method == http.MethodPost && len(parts) == 4 && parts[2] == "xp":
		a.award(w, r, user, core.Action(p.Action))
	case r.Method == http.MethodGet && len(parts) == 2:
		a.profile(w, r, user)
	case r.Method == http.MethodGet && len(parts) == 3 && parts[2] == "history":
		a.history(w, r, user)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	}
}

// award answers 200 for every decided attempt, granted or declined.
func (a *api) award(w http.ResponseWriter, r *http.Request, user core.UserID, action core.Action) {
	var req awardRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	out := a.svc.Award(r.Context(), user, action, engine.WithRefID(req.RefID))
	resp := awardResponse{Granted: out.Granted(), Reason: out.Reason()}
	if out.Granted() {
		after := out.After
		resp.XP = out.Entry.XP
		resp.LeveledUp = out.LeveledUp()
		resp.Profile = &after
	} else if out.Err == nil && out.Reason() != core.ReasonInvalidUser {
		if p, err := a.svc.Profile(r.Context(), out.UserID); err == nil {
			resp.Profile = &p
		}
	}
	writeJSON(w, resp)
}

func (a *api) profile(w http.ResponseWriter, r *http.Request, user core.UserID) {
	p, err := a.svc.Profile(r.Context(), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, p)
}

func (a *api) history(w http.ResponseWriter, r *http.Request, user core.UserID) {
	limit, ok := a.limitParam(w, r, defaultHistoryLimit, 200)
	if !ok {
		return
	}
	entries, err := a.svc.History(r.Context(), user, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []core.XPLogEntry{}
	}
	writeJSON(w, map[string]any{"user_id": user, "entries": entries})
}

func (a *api) rules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"xp_per_level": core.XPPerLevel, "rules": a.svc.Rules()})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := a.limitParam(w, r, defaultLeaderboardLimit, 100)
	if !ok {
		return
	}
	entries := a.opts.Leaderboard.TopN(limit)
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (a *api) dailyStats(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		writeJSON(w, a.opts.Stats.Today())
		return
	}
	if err := a.validate.Var(day, "datetime=2006-01-02"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "day must be YYYY-MM-DD", nil)
		return
	}
	writeJSON(w, a.opts.Stats.Summary(day))
}

func (a *api) limitParam(w http.ResponseWriter, r *http.Request, def, upper int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err == nil {
		err = a.validate.Var(n, "min=1,max="+strconv.Itoa(upper))
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and "+strconv.Itoa(upper), nil)
		return 0, false
	}
	return n, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrEmptyUserID) {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
}

// healthCheck verifies storage is reachable.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var err error
	if a.opts.Ping != nil {
		err = a.opts.Ping(ctx)
	} else {
		// reading an unknown user is side-effect free on every adapter
		_, err = a.svc.Profile(ctx, core.UserID("healthcheck_probe"))
	}

	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}

	if err != nil {
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSONStatus(w, http.StatusOK, status)
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}

func split(p string, sep rune) []string {
	var parts []string
	cur := make([]rune, 0, len(p))
	// trim leading '/'
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	for _, r := range p {
		if r == sep {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: msg, Details: details})
}

// withCORS wraps a handler with a minimal CORS policy.
func withCORS(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(next http.Handler, apiKeys []string) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractAPIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if _, ok := allowed[key]; !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit applies a simple token-bucket limiter per client key.
func withRateLimit(next http.Handler, rpm, burst int, cleanup time.Duration) http.Handler {
	limiter := newRateLimiter(rpm, burst, cleanup)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !limiter.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	rpm     float64
	burst   float64
	cleanup time.Duration
	now     func() time.Time

	mu        sync.Mutex
	b         map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newRateLimiter(rpm, burst int, cleanup time.Duration) *rateLimiter {
	l := &rateLimiter{
		rpm:     float64(rpm),
		burst:   float64(burst),
		cleanup: cleanup,
		now:     time.Now,
		b:       make(map[string]*bucket),
	}
	l.lastSweep = l.now()
	return l
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.cleanup > 0 && now.Sub(l.lastSweep) >= l.cleanup {
		l.sweep(now)
	}

	b, ok := l.b[key]
	if !ok {
		l.b[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * l.rpm
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		b.last = now
		return false
	}
	b.tokens--
	b.last = now
	return true
}

// sweep drops buckets that have refilled to burst. A fresh bucket would be
// identical, so eviction never changes a client's allowance.
func (l *rateLimiter) sweep(now time.Time) {
	for key, b := range l.b {
		if b.tokens+now.Sub(b.last).Minutes()*l.rpm >= l.burst {
			delete(l.b, key)
		}
	}
	l.lastSweep = now
}
