// Package circuitbreaker guards a single provider with a gobreaker circuit
// and exports its state to Prometheus.
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
)

// Config holds configuration for the circuit breaker
type Config struct {
	Name             string
	MaxRequests      uint32        // Requests allowed through while half-open
	Interval         time.Duration // Cyclic period of the closed state for clearing counts
	Timeout          time.Duration // Time spent open before probing again
	FailureThreshold uint32        // Consecutive failures before opening
	TestMode         bool          // Skip metric registration in test mode
}

// FromConfig converts the orchestrator's breaker settings for provider name.
func FromConfig(name string, cfg config.CircuitBreakerConfig) Config {
	return Config{
		Name:             name,
		MaxRequests:      cfg.MaxRequests,
		Interval:         cfg.Interval,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.FailureThreshold,
	}
}

// CircuitBreaker wraps gobreaker with logging and metrics.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger

	stateGauge    prometheus.Gauge
	failuresCount prometheus.Counter
	tripsTotal    prometheus.Counter
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, logger *zap.Logger, registry prometheus.Registerer) (*CircuitBreaker, error) {
	if cfg.Name == "" {
		return nil, errors.New("circuit breaker requires a name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	b := &CircuitBreaker{name: cfg.Name, logger: logger}
	labels := prometheus.Labels{"name": cfg.Name}
	b.stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "chatguard_circuit_breaker_state",
		Help:        "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		ConstLabels: labels,
	})
	b.failuresCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chatguard_circuit_breaker_failures_total",
		Help:        "Total number of failures recorded by the circuit breaker",
		ConstLabels: labels,
	})
	b.tripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chatguard_circuit_breaker_trips_total",
		Help:        "Total number of times the circuit breaker has tripped",
		ConstLabels: labels,
	})

	if !cfg.TestMode && registry != nil {
		for _, c := range []prometheus.Collector{b.stateGauge, b.failuresCount, b.tripsTotal} {
			if err := registry.Register(c); err != nil {
				return nil, err
			}
		}
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: b.onStateChange,
	})
	return b, nil
}

func (b *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	b.stateGauge.Set(float64(to))
	if to == gobreaker.StateOpen {
		b.tripsTotal.Inc()
		b.logger.Warn("Circuit breaker tripped",
			zap.String("name", name),
			zap.String("from", from.String()),
		)
		return
	}
	b.logger.Info("Circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// Execute runs f if the breaker allows it. An open breaker returns
// ErrCircuitOpen without calling f.
func (b *CircuitBreaker) Execute(f func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	case err != nil:
		b.failuresCount.Inc()
	}
	return err
}

// State returns the current state of the circuit breaker
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Counts returns the request counts of the current interval.
func (b *CircuitBreaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Name returns the guarded provider's name.
func (b *CircuitBreaker) Name() string {
	return b.name
}
