package gateway

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/config"
	"scriptgate/internal/logging"
	"scriptgate/internal/metrics"
)

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
	auditTimeout    = 2 * time.Second
)

// recorder captures what the handlers did so the outer middleware can log,
// count and audit the request.
type recorder struct {
	http.ResponseWriter
	status int
	route  Route
	routed bool
	kind   string
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func requestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerRequestID)); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

// observe tags the request with an ID and, once it completes, writes the
// access log line, the request metrics and the audit entry.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r)
		w.Header().Set(headerRequestID, id)
		ctx := logging.WithRequestID(r.Context(), id)
		r = r.WithContext(ctx)

		rec := &recorder{ResponseWriter: w}
		metrics.InFlight.Inc()
		start := time.Now()

		defer func() {
			metrics.InFlight.Dec()
			elapsed := time.Since(start)
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}

			routeLabel := "unmatched"
			if rec.routed {
				routeLabel = rec.route.Name
			}
			metrics.Collector.ObserveRequest(routeLabel, r.Method, status, elapsed)

			logger := logging.WithContext(ctx, s.logger)
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration", elapsed,
			}
			if rec.kind != "" {
				attrs = append(attrs, logging.FieldKind, rec.kind)
			}
			if rec.routed && rec.route.Kind == config.RouteHealth {
				logger.Debug("request", attrs...)
			} else {
				logger.Info("request", attrs...)
			}

			s.record(ctx, id, r.Method, rec, status, elapsed)
		}()

		next.ServeHTTP(rec, r)
	})
}

// record writes an audit entry for script and chat routes.
func (s *Server) record(ctx context.Context, id, method string, rec *recorder, status int, elapsed time.Duration) {
	if s.audit == nil || !rec.routed {
		return
	}
	if rec.route.Kind != config.RouteScript && rec.route.Kind != config.RouteChat {
		return
	}
	kind := rec.kind
	if kind == "" {
		kind = "success"
	}
	target := rec.route.Target
	if rec.route.Kind == config.RouteChat && s.chat != nil {
		target = s.chat.ProviderName()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	err := s.audit.Record(auditCtx, auditlog.Entry{
		RequestID:  id,
		Route:      rec.route.Path,
		Method:     method,
		Target:     target,
		Kind:       kind,
		Status:     status,
		DurationMs: elapsed.Milliseconds(),
	})
	if err != nil {
		logging.WithContext(ctx, s.logger).Warn("audit record failed", "err", err)
	}
}

// recoverer converts a panic into the generic internal error envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logging.WithContext(r.Context(), s.logger).Error("panic serving request",
				"path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
			if rec, ok := w.(*recorder); ok && rec.status != 0 {
				return
			}
			s.writeError(w, r, internalEnvelope())
		}()
		next.ServeHTTP(w, r)
	})
}

// cors sets the CORS headers on every response.
func (s *Server) cors(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.corsOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.corsOrigins, origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Expose-Headers", headerRequestID)
		next.ServeHTTP(w, r)
	})
}
