package coordinator

import (
	"context"
	"time"

	"github.com/c0deZ3R0/go-order-kit/logging"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// Option is a functional option for configuring a Coordinator via New.
type Option func(*Coordinator)

// WithLogger sets the logger. nil discards.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrDiscard(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithJournal sets the audit journal.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) {
		if j != nil {
			c.journal = j
		}
	}
}

// WithBatchAuthority enables BeginBatchMove.
func WithBatchAuthority(b BatchAuthority) Option {
	return func(c *Coordinator) { c.batch = b }
}

// WithConflictResolver overrides the resolver derived from the configuration.
func WithConflictResolver(r ConflictResolver) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithAlphabet overrides the alphabet derived from the configuration.
func WithAlphabet(a *orderkey.Alphabet) Option {
	return func(c *Coordinator) { c.alphabet = a }
}

// WithSession sets the ModifiedBy stamp of locally produced versions.
func WithSession(id string) Option {
	return func(c *Coordinator) { c.session = id }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep replaces the context-aware wait between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
