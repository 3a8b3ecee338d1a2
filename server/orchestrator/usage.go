package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/server/provider"
	"github.com/teilomillet/chatguard/server/storage"
)

const usageWriteTimeout = 5 * time.Second

// UsageRecorder persists usage telemetry.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec storage.UsageRecord) error
}

func (o *Orchestrator) tracking() bool {
	return o.opts.Usage != nil
}

// recordUsage bills prompt against p. Failures are logged and counted,
// never returned.
func (o *Orchestrator) recordUsage(ctx context.Context, p provider.Provider, userID, prompt string) {
	if !o.tracking() {
		return
	}
	rec := storage.UsageRecord{
		UserID:    userID,
		Provider:  p.Name(),
		Tokens:    p.CountTokens(prompt),
		Cost:      p.EstimateCost(prompt),
		Timestamp: time.Now().UTC(),
	}

	// The request may already be cancelled when a stream is closed.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()

	if m := o.opts.Metrics; m != nil {
		m.UsageTokens.WithLabelValues(rec.Provider).Add(float64(rec.Tokens))
		m.UsageCost.WithLabelValues(rec.Provider).Add(rec.Cost)
	}
	if err := o.opts.Usage.RecordUsage(wctx, rec); err != nil {
		if o.opts.Metrics != nil {
			o.opts.Metrics.UsageFailures.Inc()
		}
		o.logger.Warn("failed to record usage",
			zap.String("provider", rec.Provider),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// meteredStream bills its generation exactly once, when iteration ends or
// the stream is closed, whichever comes first.
type meteredStream struct {
	provider.Stream
	bill func()
	once sync.Once
}

func (s *meteredStream) Next() bool {
	if s.Stream.Next() {
		return true
	}
	s.once.Do(s.bill)
	return false
}

func (s *meteredStream) Close() error {
	s.once.Do(s.bill)
	return s.Stream.Close()
}
