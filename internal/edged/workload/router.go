package workload

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
)

// router builds the module-facing API.
//
// Routes:
//   - GET  /health                - liveness probe
//   - GET  /device                - resolved device identity
//   - GET  /trust-bundle          - PEM CA bundle modules should trust
//   - POST /modules/{name}/token  - API token for a registered module
func (m *Manager) router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(m.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", m.handleHealth)
	r.Get("/device", m.handleDevice)
	r.Get("/trust-bundle", m.handleTrustBundle)
	r.Post("/modules/{name}/token", m.handleToken)

	return r
}

// requestLogger traces each request, logs it through the daemon logger,
// and feeds the API request counter. Health probes log at debug to keep
// steady state logs quiet.
func (m *Manager) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ctx, span := telemetry.StartAPISpan(r.Context(), telemetry.SpanWorkloadRequest,
			r.Method, r.URL.Path, telemetry.ClientAddr(r.RemoteAddr))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		m.metrics.APIRequest("workload", r.Method, ww.Status())

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}
		if r.URL.Path == "/health" {
			logger.Debug("workload API request completed", logArgs...)
		} else {
			logger.Info("workload API request completed", logArgs...)
		}
	})
}
