package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/obot-platform/fleetgate/internal/store"
)

func testHeartbeatOptions() HeartbeatOptions {
	return HeartbeatOptions{
		Interval:   10 * time.Millisecond,
		Retention:  5 * time.Minute,
		RetryDelay: 5 * time.Millisecond,
	}
}

func TestHeartbeatLoop_Beat(t *testing.T) {
	s, c := testStore(t)
	if _, err := s.Register(context.Background(), "a", "", ""); err != nil {
		t.Fatal(err)
	}
	r := &countingReconciler{}
	h := NewHeartbeatLoop(s, r, c, testLogger(t), testHeartbeatOptions())

	if err := h.Beat(context.Background(), "a"); err != nil {
		t.Fatalf("Beat failed: %v", err)
	}

	hb, err := s.LatestHeartbeat(context.Background(), "a")
	if err != nil {
		t.Fatalf("LatestHeartbeat failed: %v", err)
	}
	if !hb.RecordedAt.Equal(epoch) {
		t.Errorf("RecordedAt = %v, want %v", hb.RecordedAt, epoch)
	}
	if got := r.n.Load(); got != 1 {
		t.Errorf("reconcile ran %d times, want 1", got)
	}
}

func TestHeartbeatLoop_BeatPrunesOldRecords(t *testing.T) {
	s, c := testStore(t)
	join(t, s, "a")
	beat(t, s, "a")
	c.Advance(6 * time.Minute)

	h := NewHeartbeatLoop(s, nil, c, testLogger(t), testHeartbeatOptions())
	if err := h.Beat(context.Background(), "a"); err != nil {
		t.Fatalf("Beat failed: %v", err)
	}

	hbs, err := s.ListHeartbeats(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(hbs) != 1 {
		t.Errorf("retained %d heartbeats, want 1", len(hbs))
	}
}

func TestHeartbeatLoop_BeatRetries(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		wantErr       bool
		wantCalls     int
		wantReconcile int32
	}{
		{name: "first attempt succeeds", failures: 0, wantCalls: 1, wantReconcile: 1},
		{name: "retry succeeds", failures: 1, wantCalls: 2, wantReconcile: 1},
		{name: "retry fails", failures: 2, wantErr: true, wantCalls: 2, wantReconcile: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := testStore(t)
			if _, err := s.Register(context.Background(), "a", "", ""); err != nil {
				t.Fatal(err)
			}
			fs := newFaultyStore(s)
			fs.failNext("RecordHeartbeat", tt.failures)
			r := &countingReconciler{}
			h := NewHeartbeatLoop(fs, r, c, testLogger(t), testHeartbeatOptions())

			err := h.Beat(context.Background(), "a")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Beat error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := fs.callCount("RecordHeartbeat"); got != tt.wantCalls {
				t.Errorf("RecordHeartbeat called %d times, want %d", got, tt.wantCalls)
			}
			if got := r.n.Load(); got != tt.wantReconcile {
				t.Errorf("reconcile ran %d times, want %d", got, tt.wantReconcile)
			}
		})
	}
}

func TestHeartbeatLoop_BeatUnregistered(t *testing.T) {
	s, c := testStore(t)
	h := NewHeartbeatLoop(s, nil, c, testLogger(t), testHeartbeatOptions())

	err := h.Beat(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Beat error = %v, want ErrNotFound", err)
	}
}

func TestHeartbeatLoop_StartStop(t *testing.T) {
	s, c := testStore(t)
	if _, err := s.Register(context.Background(), "a", "", ""); err != nil {
		t.Fatal(err)
	}
	h := NewHeartbeatLoop(s, nil, c, testLogger(t), testHeartbeatOptions())

	if !h.Start(context.Background(), "a") {
		t.Fatal("first Start should start a loop")
	}
	if h.Start(context.Background(), "a") {
		t.Error("second Start for the same id should be a no-op")
	}
	if !h.Running("a") {
		t.Error("loop should be running")
	}

	count := func() int {
		hbs, err := s.ListHeartbeats(context.Background(), "a")
		if err != nil {
			t.Fatal(err)
		}
		return len(hbs)
	}
	waitFor(t, "two heartbeats", func() bool { return count() >= 2 })

	h.Stop("a")
	h.Stop("a")
	if h.Running("a") {
		t.Error("loop should not be running after Stop")
	}

	settled := count()
	time.Sleep(50 * time.Millisecond)
	if got := count(); got != settled {
		t.Errorf("heartbeats kept arriving after Stop: %d -> %d", settled, got)
	}
}

func TestHeartbeatLoop_SurvivesFailures(t *testing.T) {
	s, c := testStore(t)
	h := NewHeartbeatLoop(s, nil, c, testLogger(t), testHeartbeatOptions())
	h.Start(context.Background(), "late")
	t.Cleanup(func() { h.Stop("late") })

	// Ticks fail until the member exists, then beats resume
	time.Sleep(30 * time.Millisecond)
	if _, err := s.Register(context.Background(), "late", "", ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "heartbeat after registration", func() bool {
		_, err := s.LatestHeartbeat(context.Background(), "late")
		return err == nil
	})
}

func TestHeartbeatLoop_ParentCancel(t *testing.T) {
	s, c := testStore(t)
	h := NewHeartbeatLoop(s, nil, c, testLogger(t), testHeartbeatOptions())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx, "a")
	cancel()

	waitFor(t, "loop to leave the registry", func() bool { return !h.Running("a") })
	if !h.Start(context.Background(), "a") {
		t.Error("Start should succeed once the previous loop exited")
	}
	h.Stop("a")
}
