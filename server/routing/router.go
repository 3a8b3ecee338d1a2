// Package routing wires the chat API handlers and middleware into a chi
// router.
package routing

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/handlers"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/middleware"
	"github.com/teilomillet/chatguard/server/validation"
)

// Handlers groups the endpoint implementations.
type Handlers struct {
	Chat    *handlers.ChatHandler
	Context *handlers.ContextHandler
	Health  *handlers.HealthHandler
}

// Options configures the middleware stack.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics // nil disables /metrics and HTTP metrics

	CORSOrigins []string

	// JWTSecret enables bearer authentication on the chat and context
	// routes when non-empty.
	JWTSecret []byte

	// IPLimiter throttles every route except health and metrics when set.
	IPLimiter *middleware.IPRateLimiter

	// RequestTimeout bounds non-streaming API routes.
	RequestTimeout time.Duration

	MaxBodyBytes int64
}

// Router is the HTTP entry point of the server.
type Router struct {
	router chi.Router
	logger *zap.Logger
}

// NewRouter builds the route table:
//
//	GET  /api/health          storage and provider health
//	GET  /api/status          liveness and version
//	POST /api/echo            echoes JSON
//	POST /api/chat/message    pipeline, JSON response
//	POST /api/chat/stream     pipeline, NDJSON stream
//	GET  /api/chat/history    stored messages of a user
//	POST /api/context/upload  multipart file upload
//	POST /api/context/search  keyword search over uploads
//	GET  /metrics             Prometheus
func NewRouter(h Handlers, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	rt := &Router{router: chi.NewRouter(), logger: opts.Logger}
	r := rt.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(opts.Logger))
	r.Use(middleware.Logging(opts.Logger))
	if opts.Metrics != nil {
		r.Use(middleware.PrometheusMetrics(opts.Metrics))
	}
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.NewNotFoundError(middleware.GetRequestID(r.Context()), "Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.NewError(errors.BadRequestError, "Method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context()), nil, nil))
	})

	if opts.Metrics != nil {
		RegisterMetricsRoutes(r, opts.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", h.Health.Health)
		api.Get("/status", h.Health.Status)

		api.Group(func(api chi.Router) {
			if opts.IPLimiter != nil {
				api.Use(opts.IPLimiter.Handler)
			}
			api.With(middleware.Timeout(opts.RequestTimeout)).Post("/echo", h.Health.Echo)

			api.Group(func(api chi.Router) {
				if len(opts.JWTSecret) > 0 {
					api.Use(middleware.Authentication(opts.JWTSecret))
				}

				chat := validation.JSON[validation.ChatRequest](opts.MaxBodyBytes)
				search := validation.JSON[validation.SearchRequest](opts.MaxBodyBytes)
				timeout := middleware.Timeout(opts.RequestTimeout)

				api.With(timeout, chat).Post("/chat/message", h.Chat.Message)
				api.With(chat).Post("/chat/stream", h.Chat.Stream)
				api.With(timeout).Get("/chat/history", h.Chat.History)
				api.With(timeout).Post("/context/upload", h.Context.Upload)
				api.With(timeout, search).Post("/context/search", h.Context.Search)
			})
		})
	})

	return rt
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}
