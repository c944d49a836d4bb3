package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/database"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/model"
	"github.com/obot-platform/fleetgate/internal/store"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const threshold = 10 * time.Second

var errInjected = errors.New("injected failure")

// testStore creates a temporary SQLite-backed store driven by a fake clock.
func testStore(t *testing.T) (*store.Store, *clock.FakeClock) {
	t.Helper()
	path := fmt.Sprintf("%s/fleet_test_%d.db", t.TempDir(), time.Now().UnixNano())
	db, err := database.Open("sqlite", path, nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	c := clock.Fake(epoch)
	return store.New(db.DB, c), c
}

func testLogger(t *testing.T) *logger.Logger {
	return logger.FromZap(zaptest.NewLogger(t))
}

func newTestElector(t *testing.T, s Store, c clock.Clock, id string, force func() bool) *Elector {
	t.Helper()
	return NewElector(s, c, testLogger(t), ElectorOptions{
		Identity:       testIdentity(id),
		StaleThreshold: threshold,
		Interval:       10 * time.Millisecond,
		ForceLeader:    force,
	})
}

func testIdentity(id string) model.Identity {
	return model.Identity{ID: id, PublicIP: "203.0.113.1", PrivateIP: "10.0.0.1"}
}

// join registers id and records one heartbeat for it.
func join(t *testing.T, s *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Register(ctx, id, "", ""); err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
	beat(t, s, id)
}

func beat(t *testing.T, s *store.Store, id string) {
	t.Helper()
	if _, err := s.RecordHeartbeat(context.Background(), id); err != nil {
		t.Fatalf("RecordHeartbeat(%s) failed: %v", id, err)
	}
}

func reconcile(t *testing.T, e *Elector) {
	t.Helper()
	if err := e.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile(%s) failed: %v", e.self.ID, err)
	}
}

func leaders(t *testing.T, s *store.Store) []string {
	t.Helper()
	var ids []string
	if err := s.DB().Model(&model.FleetMember{}).Where("is_leader = ?", true).Pluck("instance_id", &ids).Error; err != nil {
		t.Fatalf("query leaders: %v", err)
	}
	return ids
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// faultyStore injects errors into selected store methods.
type faultyStore struct {
	*store.Store

	mu    sync.Mutex
	fail  map[string]int // remaining failures per method, negative fails forever
	calls map[string]int
}

func newFaultyStore(s *store.Store) *faultyStore {
	return &faultyStore{Store: s, fail: map[string]int{}, calls: map[string]int{}}
}

func (f *faultyStore) failNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = n
}

func (f *faultyStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faultyStore) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	switch n := f.fail[method]; {
	case n < 0:
		return errInjected
	case n > 0:
		f.fail[method] = n - 1
		return errInjected
	}
	return nil
}

func (f *faultyStore) Register(ctx context.Context, id, pub, priv string) (*model.FleetMember, error) {
	if err := f.hit("Register"); err != nil {
		return nil, err
	}
	return f.Store.Register(ctx, id, pub, priv)
}

func (f *faultyStore) GetMember(ctx context.Context, id string) (*model.FleetMember, error) {
	if err := f.hit("GetMember"); err != nil {
		return nil, err
	}
	return f.Store.GetMember(ctx, id)
}

func (f *faultyStore) RecordHeartbeat(ctx context.Context, id string) (*model.Heartbeat, error) {
	if err := f.hit("RecordHeartbeat"); err != nil {
		return nil, err
	}
	return f.Store.RecordHeartbeat(ctx, id)
}

func (f *faultyStore) EvictStale(ctx context.Context, d time.Duration, exclude string) (int64, error) {
	if err := f.hit("EvictStale"); err != nil {
		return 0, err
	}
	return f.Store.EvictStale(ctx, d, exclude)
}

func (f *faultyStore) OldestAliveMemberID(ctx context.Context, d time.Duration) (string, error) {
	if err := f.hit("OldestAliveMemberID"); err != nil {
		return "", err
	}
	return f.Store.OldestAliveMemberID(ctx, d)
}

// countingReconciler records how often it ran.
type countingReconciler struct {
	n atomic.Int32
}

func (r *countingReconciler) Reconcile(context.Context) error {
	r.n.Add(1)
	return nil
}
