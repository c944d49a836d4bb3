package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/model"
	"github.com/obot-platform/fleetgate/internal/store"
)

// ElectorOptions configures an Elector.
type ElectorOptions struct {
	Identity       model.Identity
	StaleThreshold time.Duration
	Interval       time.Duration // backstop ticker period
	AssumeLeader   bool          // initial cached belief before the first cycle
	ForceLeader    func() bool   // evaluated once per cycle; nil means never
}

// Elector decides whether this instance leads the fleet. The database is the
// arbiter; the Elector only caches what the last successful cycle concluded.
type Elector struct {
	store     Store
	clock     clock.Clock
	log       *logger.Logger
	self      model.Identity
	threshold time.Duration
	interval  time.Duration
	forced    func() bool

	// Cached leadership state
	mu        sync.RWMutex
	state     model.LeaderSnapshot
	seq       uint64 // cycles started
	committed uint64 // newest cycle whose result is in state
	wasForced bool

	// Backstop lifecycle
	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewElector creates an Elector for the given identity.
func NewElector(s Store, c clock.Clock, log *logger.Logger, opts ElectorOptions) *Elector {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Elector{
		store:     s,
		clock:     c,
		log:       log.With("component", "elector", "instance_id", opts.Identity.ID),
		self:      opts.Identity,
		threshold: opts.StaleThreshold,
		interval:  opts.Interval,
		forced:    opts.ForceLeader,
		state: model.LeaderSnapshot{
			SelfID:    opts.Identity.ID,
			PublicIP:  opts.Identity.PublicIP,
			PrivateIP: opts.Identity.PrivateIP,
			AmILeader: opts.AssumeLeader,
		},
	}
}

// Snapshot returns the cached leadership state. It never touches the store.
func (e *Elector) Snapshot() model.LeaderSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsLeader reports the cached leadership belief.
func (e *Elector) IsLeader() bool {
	return e.Snapshot().AmILeader
}

// Reconcile runs one election cycle against the store. On any store error the
// cycle is abandoned, the cached state is left as it was and the error is
// returned. Concurrent calls are safe.
func (e *Elector) Reconcile(ctx context.Context) error {
	seq := e.begin()
	id := e.self.ID

	if n, err := e.store.EvictStale(ctx, e.threshold, id); err != nil {
		return e.abort("evict stale members", err)
	} else if n > 0 {
		e.log.Info("Evicted stale fleet members", "count", n)
	}

	if _, err := e.store.GetMember(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return e.abort("load own membership", err)
		}
		if _, err := e.store.Register(ctx, id, e.self.PublicIP, e.self.PrivateIP); err != nil {
			return e.abort("re-register", err)
		}
		e.log.Info("Registered missing fleet membership")
		e.commit(seq, nil)
		return nil
	}

	if _, err := e.store.LatestHeartbeat(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return e.abort("load latest heartbeat", err)
		}
		if _, err := e.store.RecordHeartbeat(ctx, id); err != nil {
			return e.abort("record first heartbeat", err)
		}
		e.log.Debug("Recorded first heartbeat")
		e.commit(seq, nil)
		return nil
	}

	force := e.forced != nil && e.forced()
	e.noteForce(force)
	if force && !e.IsLeader() {
		if err := e.store.ForceLeader(ctx, id); err != nil {
			return e.abort("force leadership", err)
		}
		e.log.Warn("Leadership forced by override", "env", "FLEET_FORCE_LEADER")
		e.commit(seq, boolPtr(true))
		return nil
	}

	winner, err := e.store.OldestAliveMemberID(ctx, e.threshold)
	if err != nil {
		return e.abort("find oldest alive member", err)
	}
	if winner == "" {
		// Nobody has a fresh heartbeat, including us. Take the role
		// provisionally; the next cycle corrects it.
		e.log.Debug("No alive candidate, adopting leadership provisionally")
		winner = id
	}

	leader := winner == id
	if leader {
		if err := e.store.SetLeader(ctx, id, true); err != nil {
			return e.abort("claim leadership", err)
		}
	}
	e.commit(seq, &leader)
	return nil
}

func (e *Elector) begin() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

func (e *Elector) abort(step string, err error) error {
	e.log.Warn("Election cycle aborted", "step", step, "error", err)
	return fmt.Errorf("%s: %w", step, err)
}

func (e *Elector) noteForce(force bool) {
	e.mu.Lock()
	changed := force != e.wasForced
	e.wasForced = force
	e.mu.Unlock()

	if changed && !force {
		e.log.Info("Leadership override cleared")
	}
}

// commit records the outcome of cycle seq. A nil leader keeps the current
// belief. Results older than an already committed cycle are dropped.
func (e *Elector) commit(seq uint64, leader *bool) {
	now := e.clock.Now()

	e.mu.Lock()
	if seq <= e.committed {
		e.mu.Unlock()
		return
	}
	e.committed = seq
	wasLeader := e.state.AmILeader
	if leader != nil {
		e.state.AmILeader = *leader
	}
	e.state.LastCheckedAt = now
	isLeader := e.state.AmILeader
	e.mu.Unlock()

	if isLeader && !wasLeader {
		e.log.Info("Became leader")
	} else if !isLeader && wasLeader {
		e.log.Info("Lost leadership")
	}
}

func boolPtr(b bool) *bool { return &b }

// Start runs Reconcile on the backstop ticker until Stop is called. Calling
// Start while running does nothing and returns false.
func (e *Elector) Start(parentCtx context.Context) bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runSafely(e.log, "election", func() {
					_ = e.Reconcile(ctx)
				})
			}
		}
	}()
	return true
}

// Stop halts the backstop ticker and waits for an in-flight cycle to finish.
func (e *Elector) Stop() {
	e.loopMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
