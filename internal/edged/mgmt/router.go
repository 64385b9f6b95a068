package mgmt

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/edged/internal/logger"
	"github.com/marmos91/edged/internal/telemetry"
	"github.com/marmos91/edged/pkg/metrics"
)

// router builds the operator-facing API.
//
// Routes:
//   - GET  /health                   - liveness probe
//   - GET  /modules                  - modules as the runtime reports them
//   - POST /modules/{name}/restart   - restart a module in place
//   - GET  /systeminfo               - host and runtime snapshot
//   - POST /device/reprovision       - schedule a device reprovision
//   - GET  /metrics                  - Prometheus scrape, when enabled
func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/modules", s.handleModules)
	r.Post("/modules/{name}/restart", s.handleRestartModule)
	r.Get("/systeminfo", s.handleSystemInfo)
	r.Post("/device/reprovision", s.handleReprovision)

	if h := metrics.Handler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	return r
}

// requestLogger traces each request, logs it through the daemon logger,
// and feeds the API request counter. Health probes and metric scrapes
// arrive on a timer, so they log at debug to keep steady state logs
// quiet.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ctx, span := telemetry.StartAPISpan(r.Context(), telemetry.SpanManagementRequest,
			r.Method, r.URL.Path, telemetry.ClientAddr(r.RemoteAddr))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.metrics.APIRequest("management", r.Method, ww.Status())

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			logger.Debug("management API request completed", logArgs...)
		} else {
			logger.Info("management API request completed", logArgs...)
		}
	})
}
