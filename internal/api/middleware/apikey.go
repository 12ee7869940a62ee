package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apiContext "apigate/internal/api/context"
	"apigate/internal/engine/keys"
	"apigate/internal/engine/quota"
	"apigate/internal/engine/ratelimit"
	"apigate/internal/engine/requestlog"
	"apigate/internal/pkg/errors"
	"apigate/internal/platform/models"
)

// APIKeyMiddleware runs the gateway pipeline for programmatic requests:
// resolve the credential, check the per-key rate limit, check the org quota,
// then hand off to the business handler. Every request is recorded in the
// request log, rejected ones included, with its actual status code.
type APIKeyMiddleware struct {
	keys     *keys.Service
	limiter  *ratelimit.Limiter
	quota    *quota.Tracker
	recorder *requestlog.Recorder
}

func NewAPIKeyMiddleware(keySvc *keys.Service, limiter *ratelimit.Limiter, tracker *quota.Tracker, recorder *requestlog.Recorder) *APIKeyMiddleware {
	return &APIKeyMiddleware{keys: keySvc, limiter: limiter, quota: tracker, recorder: recorder}
}

// statusRecorder captures the status code the handler wrote so the request
// log reflects the real outcome.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (m *APIKeyMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		secret := extractSecret(r)
		if secret == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing API key", nil)
			m.record(r, nil, http.StatusUnauthorized, start)
			return
		}

		key, err := m.keys.Resolve(secret)
		if err != nil {
			// Unknown, revoked and expired secrets all land here; the caller
			// gets no hint which one it was.
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
			m.record(r, nil, http.StatusUnauthorized, start)
			return
		}

		if !ipAllowed(key, clientIP(r)) || !originAllowed(key, r.Header.Get("Origin")) {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
			m.record(r, key, http.StatusUnauthorized, start)
			return
		}

		keyDecision := m.limiter.Check(key)
		if !keyDecision.Allowed {
			writeRateHeaders(w, 0, keyDecision.ResetAt)
			writeRetryAfter(w, keyDecision.ResetAt)
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded,
				"Rate limit exceeded", map[string]interface{}{
					"window":   keyDecision.Window,
					"reset_at": keyDecision.ResetAt.Unix(),
				})
			m.record(r, key, http.StatusTooManyRequests, start)
			return
		}

		quotaDecision, err := m.quota.Check(key.OrganizationID)
		if err != nil {
			// Quota state unavailable: fail closed rather than let traffic
			// through unmetered.
			errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Quota check unavailable", nil)
			m.record(r, key, http.StatusServiceUnavailable, start)
			return
		}
		if !quotaDecision.Allowed {
			writeRateHeaders(w, 0, quotaDecision.ResetAt)
			writeRetryAfter(w, quotaDecision.ResetAt)
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeQuotaExceeded,
				"Organization quota exceeded", map[string]interface{}{
					"window":   quotaDecision.Window,
					"reset_at": quotaDecision.ResetAt.Unix(),
				})
			m.record(r, key, http.StatusTooManyRequests, start)
			return
		}

		remaining, resetAt := keyDecision.Remaining, keyDecision.ResetAt
		if quotaDecision.Remaining < remaining {
			remaining, resetAt = quotaDecision.Remaining, quotaDecision.ResetAt
		}
		writeRateHeaders(w, remaining, resetAt)

		go m.keys.TouchLastUsed(key.ID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), apiContext.APIKey, key)
		next(rec, r.WithContext(ctx))

		m.record(r, key, rec.status, start)
	}
}

func (m *APIKeyMiddleware) record(r *http.Request, key *models.APIKey, status int, start time.Time) {
	entry := &models.RequestLog{
		Method:         r.Method,
		Endpoint:       r.URL.Path,
		Path:           r.URL.RequestURI(),
		StatusCode:     status,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		IPAddress:      clientIP(r),
		UserAgent:      r.UserAgent(),
	}

	if key != nil {
		entry.APIKeyID = &key.ID
		entry.OrganizationID = key.OrganizationID
	}

	if query := r.URL.Query(); len(query) > 0 {
		entry.QueryParams = make(map[string]string, len(query))
		for name, values := range query {
			entry.QueryParams[name] = values[0]
		}
	}

	m.recorder.Record(entry)
}

// extractSecret prefers a Bearer token; an Authorization header carrying some
// other scheme (Basic, a session cookie proxy) is not ours, so X-API-Key still
// gets a look.
func extractSecret(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeRateHeaders(w http.ResponseWriter, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func writeRetryAfter(w http.ResponseWriter, resetAt time.Time) {
	retryAfter := int(time.Until(resetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipAllowed(key *models.APIKey, ip string) bool {
	if len(key.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range key.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

func originAllowed(key *models.APIKey, origin string) bool {
	if len(key.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range key.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
