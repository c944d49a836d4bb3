package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/logger"
)

// HeartbeatOptions configures a HeartbeatLoop.
type HeartbeatOptions struct {
	Interval   time.Duration
	Retention  time.Duration // heartbeats older than this are pruned
	RetryDelay time.Duration // pause before the single retry of a failed beat
}

// HeartbeatLoop writes periodic liveness proofs, one goroutine per instance id.
type HeartbeatLoop struct {
	store      Store
	reconciler Reconciler
	clock      clock.Clock
	log        *logger.Logger
	opts       HeartbeatOptions

	mu     sync.Mutex
	active map[string]*loopTask
}

type loopTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatLoop creates a HeartbeatLoop. reconciler, if non-nil, runs after
// every successful beat.
func NewHeartbeatLoop(s Store, reconciler Reconciler, c clock.Clock, log *logger.Logger, opts HeartbeatOptions) *HeartbeatLoop {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HeartbeatLoop{
		store:      s,
		reconciler: reconciler,
		clock:      c,
		log:        log.With("component", "heartbeat"),
		opts:       opts,
		active:     make(map[string]*loopTask),
	}
}

// Start begins beating for instanceID. It returns false and does nothing if a
// loop for that id is already running.
func (h *HeartbeatLoop) Start(parentCtx context.Context, instanceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[instanceID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(parentCtx)
	task := &loopTask{cancel: cancel, done: make(chan struct{})}
	h.active[instanceID] = task

	go h.run(ctx, instanceID, task)
	return true
}

// Stop halts the loop for instanceID and waits for it to exit. Stopping an id
// that is not running is a no-op.
func (h *HeartbeatLoop) Stop(instanceID string) {
	h.mu.Lock()
	task := h.active[instanceID]
	delete(h.active, instanceID)
	h.mu.Unlock()

	if task == nil {
		return
	}
	task.cancel()
	<-task.done
}

// Running reports whether a loop is active for instanceID.
func (h *HeartbeatLoop) Running(instanceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[instanceID]
	return ok
}

func (h *HeartbeatLoop) run(ctx context.Context, instanceID string, task *loopTask) {
	defer close(task.done)
	defer func() {
		// Drop our registry entry if the parent context ended the loop
		h.mu.Lock()
		if h.active[instanceID] == task {
			delete(h.active, instanceID)
		}
		h.mu.Unlock()
	}()

	log := h.log.With("instance_id", instanceID)

	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runSafely(log, "heartbeat", func() {
				if err := h.Beat(ctx, instanceID); err != nil && ctx.Err() == nil {
					log.Warn("Heartbeat dropped", "error", err)
				}
			})
		}
	}
}

// Beat records one heartbeat for instanceID, retrying once after the retry
// delay. On success old heartbeats are pruned and a reconcile is triggered;
// neither failing affects the result.
func (h *HeartbeatLoop) Beat(ctx context.Context, instanceID string) error {
	if _, err := h.store.RecordHeartbeat(ctx, instanceID); err != nil {
		h.log.Debug("Heartbeat failed, retrying", "instance_id", instanceID, "error", err)
		if err := sleepCtx(ctx, h.opts.RetryDelay); err != nil {
			return err
		}
		if _, err := h.store.RecordHeartbeat(ctx, instanceID); err != nil {
			return fmt.Errorf("record heartbeat: %w", err)
		}
	}

	cutoff := h.clock.Now().Add(-h.opts.Retention)
	if _, err := h.store.PruneHeartbeats(ctx, instanceID, cutoff); err != nil {
		h.log.Warn("Failed to prune heartbeats", "instance_id", instanceID, "error", err)
	}

	if h.reconciler != nil {
		// Errors are logged by the elector itself
		_ = h.reconciler.Reconcile(ctx)
	}
	return nil
}
