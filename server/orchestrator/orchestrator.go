// Package orchestrator drives an ordered list of providers through retry,
// exponential backoff and failover.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	chaterrors "github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/circuitbreaker"
	"github.com/teilomillet/chatguard/server/metrics"
	"github.com/teilomillet/chatguard/server/provider"
)

var (
	// ErrAllProvidersFailed wraps the last provider error once every
	// provider has used up its retries.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrNoProviders is returned by New when the provider list is empty
	ErrNoProviders = errors.New("no providers configured")
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures an Orchestrator.
type Options struct {
	MaxRetries  int           // attempts per provider (default 3)
	BackoffBase time.Duration // wait after attempt n is BackoffBase * 2^n

	// Usage receives one record per successful generation. Nil disables tracking.
	Usage UsageRecorder

	// Deduplicate shares one generation between identical concurrent requests.
	Deduplicate bool
	// SharedTimeout bounds a deduplicated generation, which runs detached
	// from any single caller's cancellation (default 2m).
	SharedTimeout time.Duration

	// Breakers guard providers by name. Providers without one are called directly.
	Breakers map[string]*circuitbreaker.CircuitBreaker

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Sleep   SleepFunc
}

// Result is the outcome of a successful generation.
type Result struct {
	Text     string
	Provider string
	Attempts int // total attempts across all providers
	Shared   bool
}

// StreamResult is an open stream plus the provider that produced it.
type StreamResult struct {
	provider.Stream
	Provider string
	Attempts int
}

// Orchestrator generates text with failover. It is safe for concurrent use;
// backoff only blocks the calling goroutine.
type Orchestrator struct {
	providers []provider.Provider
	opts      Options
	logger    *zap.Logger
	group     singleflight.Group
	health    *healthTracker
}

// New creates an orchestrator. providers are tried in slice order.
func New(providers []provider.Provider, opts Options) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = 0
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.SharedTimeout <= 0 {
		opts.SharedTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return &Orchestrator{
		providers: providers,
		opts:      opts,
		logger:    opts.Logger,
		health:    newHealthTracker(names),
	}, nil
}

// ProviderNames returns provider names in failover order.
func (o *Orchestrator) ProviderNames() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Generate returns the first successful completion of prompt. userID is
// only used for usage accounting and may be empty.
func (o *Orchestrator) Generate(ctx context.Context, prompt, userID string) (*Result, error) {
	if !o.opts.Deduplicate {
		return o.generate(ctx, prompt, userID)
	}

	// The flight outlives the caller that started it: a waiter that goes
	// away returns early, the others still get the result.
	key := userID + "\x00" + prompt
	ch := o.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SharedTimeout)
		defer cancel()
		return o.generate(shared, prompt, userID)
	})

	var out singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out = <-ch:
	}
	if out.Err != nil {
		return nil, out.Err
	}
	res := *out.Val.(*Result)
	if out.Shared {
		res.Shared = true
		if o.opts.Metrics != nil {
			o.opts.Metrics.Deduplicated.Inc()
		}
	}
	return &res, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt, userID string) (*Result, error) {
	var text string
	p, attempts, err := o.run(ctx, func(p provider.Provider) error {
		var err error
		text, err = p.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.recordUsage(ctx, p, userID, prompt)
	return &Result{Text: text, Provider: p.Name(), Attempts: attempts}, nil
}

// Stream opens a chunk stream with the same retry and failover rules as
// Generate. Opening the stream counts as success; errors surfacing while
// draining are the caller's to handle. Usage is billed once, when the
// stream ends or is closed.
func (o *Orchestrator) Stream(ctx context.Context, prompt, userID string) (*StreamResult, error) {
	var s provider.Stream
	p, attempts, err := o.run(ctx, func(p provider.Provider) error {
		var err error
		s, err = p.Stream(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	if o.tracking() {
		s = &meteredStream{Stream: s, bill: func() { o.recordUsage(ctx, p, userID, prompt) }}
	}
	return &StreamResult{Stream: s, Provider: p.Name(), Attempts: attempts}, nil
}

// run applies call to each provider in order, retrying each up to
// MaxRetries times and sleeping BackoffBase*2^attempt after every failure.
func (o *Orchestrator) run(ctx context.Context, call func(provider.Provider) error) (provider.Provider, int, error) {
	var lastErr error
	attempts := 0

	for _, p := range o.providers {
		name := p.Name()
		breaker := o.opts.Breakers[name]

		for attempt := 0; attempt < o.opts.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, attempts, err
			}

			attempts++
			start := time.Now()
			var err error
			if breaker != nil {
				err = breaker.Execute(func() error { return call(p) })
			} else {
				err = call(p)
			}
			latency := time.Since(start)

			if err == nil {
				o.health.success(name, latency)
				o.observe(name, "success", latency)
				return p, attempts, nil
			}

			lastErr = chaterrors.NewProviderError("", fmt.Sprintf("provider %s attempt %d failed", name, attempt+1), err)
			o.health.failure(name, latency, err)
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				o.observe(name, "circuit_open", latency)
				o.logger.Debug("circuit open, skipping provider", zap.String("provider", name))
				break
			}
			o.observe(name, "failure", latency)
			o.logger.Warn("provider attempt failed",
				zap.String("provider", name),
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", o.opts.MaxRetries),
				zap.Error(lastErr),
			)

			if err := o.opts.Sleep(ctx, o.backoff(attempt)); err != nil {
				return nil, attempts, err
			}
		}
	}

	return nil, attempts, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.opts.BackoffBase * time.Duration(1<<uint(attempt))
}

func (o *Orchestrator) observe(name, outcome string, latency time.Duration) {
	if o.opts.Metrics == nil {
		return
	}
	o.opts.Metrics.ProviderAttempts.WithLabelValues(name, outcome).Inc()
	o.opts.Metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
