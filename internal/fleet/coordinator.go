package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/model"
)

// ErrAlreadyStarted is returned by a second Coordinator.Start.
var ErrAlreadyStarted = errors.New("fleet coordinator already started")

// Coordinator wires registration, heartbeats, eviction and election together
// for one gateway instance.
type Coordinator struct {
	store       Store
	cfg         *config.Config
	clock       clock.Clock
	log         *logger.Logger
	forceLeader func() bool

	mu         sync.Mutex
	started    bool
	stopped    bool
	identity   model.Identity
	heartbeats *HeartbeatLoop
	eviction   *EvictionLoop

	// Read by request handlers while Start may still be waiting on the store
	elector atomic.Pointer[Elector]
}

// NewCoordinator creates a Coordinator. forceLeader is evaluated on every
// election cycle; pass config.ForceLeaderFromEnv in production.
func NewCoordinator(s Store, cfg *config.Config, c clock.Clock, log *logger.Logger, forceLeader func() bool) *Coordinator {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{
		store:       s,
		cfg:         cfg,
		clock:       c,
		log:         log.With("component", "fleet"),
		forceLeader: forceLeader,
	}
}

// Start registers the instance, starts the background loops and runs one
// election cycle. Loops keep running after ctx ends; use Stop to end them.
func (c *Coordinator) Start(ctx context.Context, id model.Identity) (model.LeaderSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return c.Snapshot(), ErrAlreadyStarted
	}

	if _, err := c.store.Register(ctx, id.ID, id.PublicIP, id.PrivateIP); err != nil {
		return model.LeaderSnapshot{}, fmt.Errorf("register instance: %w", err)
	}
	c.log.Info("Registered fleet member",
		"instance_id", id.ID,
		"public_ip", id.PublicIP,
		"private_ip", id.PrivateIP,
	)

	confirmed := c.waitForRegistration(ctx, id.ID)

	elector := NewElector(c.store, c.clock, c.log, ElectorOptions{
		Identity:       id,
		StaleThreshold: c.cfg.StaleThreshold,
		Interval:       c.cfg.ElectionInterval,
		AssumeLeader:   c.cfg.AssumeLeader,
		ForceLeader:    c.forceLeader,
	})
	c.heartbeats = NewHeartbeatLoop(c.store, elector, c.clock, c.log, HeartbeatOptions{
		Interval:   c.cfg.HeartbeatInterval,
		Retention:  c.cfg.HeartbeatRetention,
		RetryDelay: c.cfg.HeartbeatRetryDelay,
	})
	c.eviction = NewEvictionLoop(c.store, c.log, EvictionOptions{
		Interval:       c.cfg.EvictionInterval,
		Jitter:         c.cfg.EvictionJitter,
		StaleThreshold: c.cfg.StaleThreshold,
	})
	c.identity = id
	c.elector.Store(elector)
	c.started = true

	loopCtx := context.WithoutCancel(ctx)
	if confirmed {
		c.heartbeats.Start(loopCtx, id.ID)
	} else {
		c.log.Warn("Registration not readable, heartbeats disabled",
			"instance_id", id.ID,
			"attempts", c.cfg.RegistrationRetries,
		)
	}
	c.eviction.Start(loopCtx, id.ID)
	elector.Start(loopCtx)

	if err := elector.Reconcile(ctx); err != nil {
		c.log.Warn("Initial election cycle failed", "error", err)
	}

	snap := elector.Snapshot()
	c.log.Info("Fleet coordinator started", "instance_id", id.ID, "leader", snap.AmILeader)
	return snap, nil
}

// waitForRegistration polls until the instance row is readable, up to the
// configured number of attempts with a fixed pause between them.
func (c *Coordinator) waitForRegistration(ctx context.Context, instanceID string) bool {
	for attempt := 1; attempt <= c.cfg.RegistrationRetries; attempt++ {
		if _, err := c.store.GetMember(ctx, instanceID); err == nil {
			return true
		}
		if attempt == c.cfg.RegistrationRetries {
			break
		}
		c.log.Debug("Waiting for registration to become visible", "attempt", attempt)
		if err := sleepCtx(ctx, c.cfg.RegistrationBackoff); err != nil {
			return false
		}
	}
	return false
}

// Snapshot returns the cached leadership state, or the zero value before Start.
func (c *Coordinator) Snapshot() model.LeaderSnapshot {
	if e := c.elector.Load(); e != nil {
		return e.Snapshot()
	}
	return model.LeaderSnapshot{}
}

// IsLeader reports the cached leadership belief.
func (c *Coordinator) IsLeader() bool {
	return c.Snapshot().AmILeader
}

// Stop halts every loop and deregisters the instance. Deregistration is best
// effort; its failure is only logged. Stop is idempotent.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped {
		return
	}
	c.stopped = true

	c.log.Info("Fleet coordinator stopping...")

	c.heartbeats.Stop(c.identity.ID)
	c.eviction.Stop()
	if e := c.elector.Load(); e != nil {
		e.Stop()
	}

	if err := c.store.DeleteMember(ctx, c.identity.ID); err != nil {
		c.log.Warn("Failed to deregister fleet member", "instance_id", c.identity.ID, "error", err)
		return
	}
	c.log.Info("Deregistered fleet member", "instance_id", c.identity.ID)
}
