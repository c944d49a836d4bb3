package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/obot-platform/fleetgate/internal/logger"
)

// EvictionOptions configures an EvictionLoop.
type EvictionOptions struct {
	Interval       time.Duration
	Jitter         float64 // ratio of Interval, re-drawn before every sweep
	StaleThreshold time.Duration
}

// EvictionLoop periodically deletes members that stopped heartbeating. The
// jittered period keeps a fleet from sweeping in lockstep.
type EvictionLoop struct {
	store Store
	log   *logger.Logger
	opts  EvictionOptions

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEvictionLoop creates an EvictionLoop.
func NewEvictionLoop(s Store, log *logger.Logger, opts EvictionOptions) *EvictionLoop {
	if log == nil {
		log = logger.Nop()
	}
	return &EvictionLoop{
		store: s,
		log:   log.With("component", "eviction"),
		opts:  opts,
	}
}

// Sweep evicts every stale member except selfID once.
func (l *EvictionLoop) Sweep(ctx context.Context, selfID string) (int64, error) {
	n, err := l.store.EvictStale(ctx, l.opts.StaleThreshold, selfID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.log.Info("Evicted stale fleet members", "count", n)
	}
	return n, nil
}

// Start begins sweeping on behalf of selfID. It returns false if the loop is
// already running.
func (l *EvictionLoop) Start(parentCtx context.Context, selfID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)

		timer := time.NewTimer(Jitter(l.opts.Interval, l.opts.Jitter))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				runSafely(l.log, "eviction", func() {
					if _, err := l.Sweep(ctx, selfID); err != nil && ctx.Err() == nil {
						l.log.Warn("Stale member sweep failed", "error", err)
					}
				})
				timer.Reset(Jitter(l.opts.Interval, l.opts.Jitter))
			}
		}
	}()
	return true
}

// Stop halts the loop and waits for an in-flight sweep. Idempotent.
func (l *EvictionLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
