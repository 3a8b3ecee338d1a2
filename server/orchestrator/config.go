package orchestrator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
	"github.com/teilomillet/chatguard/server/circuitbreaker"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/provider"
)

// FromConfig builds an orchestrator whose failover order is preference.
// usage is only attached when cfg.TrackUsage is set.
func FromConfig(
	cfg config.OrchestratorConfig,
	preference []string,
	providers map[string]provider.Provider,
	usage UsageRecorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ordered := make([]provider.Provider, 0, len(preference))
	for _, name := range preference {
		p, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %q in preference list is not configured", name)
		}
		ordered = append(ordered, p)
	}

	var breakers map[string]*circuitbreaker.CircuitBreaker
	if cfg.CircuitBreaker.Enabled {
		var registry prometheus.Registerer
		if m != nil {
			registry = m.Registry()
		}
		breakers = make(map[string]*circuitbreaker.CircuitBreaker, len(ordered))
		for _, p := range ordered {
			cb, err := circuitbreaker.NewCircuitBreaker(
				circuitbreaker.FromConfig(p.Name(), cfg.CircuitBreaker),
				logger.With(zap.String("provider", p.Name())),
				registry,
			)
			if err != nil {
				return nil, fmt.Errorf("circuit breaker for %s: %w", p.Name(), err)
			}
			breakers[p.Name()] = cb
		}
	}

	opts := Options{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		Deduplicate: cfg.Deduplicate,
		Breakers:    breakers,
		Metrics:     m,
		Logger:      logger,
	}
	if cfg.TrackUsage {
		opts.Usage = usage
	}
	return New(ordered, opts)
}
