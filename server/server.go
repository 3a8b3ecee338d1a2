// Package server assembles the chat guard service from its configuration
// and runs the HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/handlers"
	"github.com/teilomillet/chatguard/server/knowledge"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/middleware"
	"github.com/teilomillet/chatguard/server/orchestrator"
	"github.com/teilomillet/chatguard/server/postprocess"
	"github.com/teilomillet/chatguard/server/processing"
	"github.com/teilomillet/chatguard/server/prompt"
	"github.com/teilomillet/chatguard/server/provider"
	"github.com/teilomillet/chatguard/server/ratelimit"
	"github.com/teilomillet/chatguard/server/routing"
	"github.com/teilomillet/chatguard/server/screening"
	"github.com/teilomillet/chatguard/server/storage"
)

// Version is reported by /api/status and the CLI.
const Version = "v0.1.0"

// Option customizes a Server.
type Option func(*Server)

// WithProviders replaces the providers built from the config. Names must
// match provider_preference.
func WithProviders(providers map[string]provider.Provider) Option {
	return func(s *Server) { s.providers = providers }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(level zap.AtomicLevel) Option {
	return func(s *Server) {
		s.level = level
		s.hasLevel = true
	}
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	watcher    config.Watcher
	logger     *zap.Logger
	level      zap.AtomicLevel
	hasLevel   bool

	providers map[string]provider.Provider
	store     storage.Store
	usageStop func() error
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	ipLimiter *middleware.IPRateLimiter
	pipeline  *processing.Pipeline
	orch      *orchestrator.Orchestrator
	handler   http.Handler

	closeOnce sync.Once
}

// NewServer loads configPath, watches it for changes and builds the server.
func NewServer(configPath string, logger *zap.Logger, opts ...Option) (*Server, error) {
	watcher, err := config.NewConfigWatcher(configPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	s, err := NewServerWithConfig(watcher, logger, opts...)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithConfig builds the dependency graph from the watcher's
// current config.
func NewServerWithConfig(watcher config.Watcher, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{watcher: watcher, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	cfg := watcher.GetCurrentConfig()
	if err := s.build(cfg); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(cfg *config.Config) error {
	ctx := context.Background()
	s.metrics = metrics.NewMetrics()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	s.store = store

	sink, stop, err := storage.OpenUsageSink(ctx, cfg.Usage, store)
	if err != nil {
		return fmt.Errorf("open usage sink: %w", err)
	}
	s.usageStop = stop

	if s.providers == nil {
		s.providers, err = provider.NewAll(cfg.Providers, s.logger)
		if err != nil {
			return fmt.Errorf("create providers: %w", err)
		}
	}
	s.orch, err = orchestrator.FromConfig(cfg.Orchestrator, cfg.ProviderPreference, s.providers, sink, s.metrics, s.logger)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	screens, err := screening.New(cfg.Screening)
	if err != nil {
		return fmt.Errorf("compile screens: %w", err)
	}
	framer, err := prompt.NewFramer(cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("create framer: %w", err)
	}
	s.limiter = ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Count,
		ratelimit.WithRejectCounter(s.metrics.RateLimitHits.WithLabelValues("user")))
	index := knowledge.NewIndex(store, cfg.Uploads.ChunkSize)

	s.pipeline, err = processing.New(processing.Deps{
		Screens:       screens,
		Limiter:       s.limiter,
		Framer:        framer,
		Generator:     s.orch,
		Postprocessor: postprocess.New(cfg.Postprocess, s.logger),
		Conversations: store,
		Context:       index,
		Metrics:       s.metrics,
		Logger:        s.logger,
	}, processing.Options{
		MaxMessageLength: cfg.Pipeline.MaxMessageLength,
		ContextTopK:      cfg.Postprocess.ContextTopK,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	routerOpts := routing.Options{
		Logger:         s.logger,
		Metrics:        s.metrics,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	if cfg.Auth.Enabled {
		routerOpts.JWTSecret = []byte(cfg.Auth.JWTSecret)
	}
	if cfg.IPRateLimit.Enabled {
		s.ipLimiter = middleware.NewIPRateLimiter(cfg.IPRateLimit.Every, cfg.IPRateLimit.Burst, s.metrics)
		routerOpts.IPLimiter = s.ipLimiter
	}

	s.handler = routing.NewRouter(routing.Handlers{
		Chat:    handlers.NewChatHandler(s.pipeline, store, s.logger),
		Context: handlers.NewContextHandler(index, cfg.Uploads, s.metrics, s.logger),
		Health:  handlers.NewHealthHandler(store, s.orch, Version, s.logger),
	}, routerOpts)

	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        s.handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("Server started", zap.String("address", s.httpServer.Addr), zap.String("version", Version))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go s.watchConfig(bgCtx)
	go s.housekeeping(bgCtx, s.watcher.GetCurrentConfig().RateLimit.Window)

	select {
	case <-ctx.Done():
		timeout := s.watcher.GetCurrentConfig().Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("Shutting down server")
		return s.Shutdown(shutdownCtx)

	case err := <-errChan:
		s.closeResources()
		return err
	}
}

// Shutdown stops the HTTP server and releases storage and the watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("error during server shutdown: %w", shutdownErr)
		}
	}
	s.closeResources()
	return err
}

func (s *Server) closeResources() {
	s.closeOnce.Do(func() {
		if s.usageStop != nil {
			if err := s.usageStop(); err != nil {
				s.logger.Warn("Failed to close usage sink", zap.Error(err))
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				s.logger.Warn("Failed to close storage", zap.Error(err))
			}
		}
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.logger.Warn("Failed to close config watcher", zap.Error(err))
			}
		}
	})
}

// watchConfig applies reloadable settings: screening lists and the log
// level. Everything else needs a restart.
func (s *Server) watchConfig(ctx context.Context) {
	updates := s.watcher.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			s.applyConfig(cfg)
		}
	}
}

func (s *Server) applyConfig(cfg *config.Config) {
	screens, err := screening.New(cfg.Screening)
	if err != nil {
		errors.LogError(s.logger, errors.NewError(errors.ConfigError, "Rejected screening config", 0, "", nil, err), "")
	} else {
		s.pipeline.SetScreens(screens)
	}

	if s.hasLevel && cfg.Logging.Level != "" {
		if err := s.level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
			s.logger.Warn("Ignoring invalid log level", zap.String("level", cfg.Logging.Level))
		}
	}
	s.logger.Info("Configuration reloaded")
}

// housekeeping drops idle rate-limit state.
func (s *Server) housekeeping(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users := s.limiter.Sweep()
			ips := 0
			if s.ipLimiter != nil {
				ips = s.ipLimiter.Cleanup(10 * every)
			}
			s.logger.Debug("Rate limit state swept", zap.Int("users", users), zap.Int("ips", ips))
		}
	}
}
