// Package fleet keeps gateway instances registered, alive and agreed on a
// single leader using only the shared database as arbiter.
package fleet

import (
	"context"
	"time"

	"github.com/obot-platform/fleetgate/internal/model"
)

// Store is the shared fleet state. *store.Store implements it.
type Store interface {
	Register(ctx context.Context, instanceID, publicIP, privateIP string) (*model.FleetMember, error)
	GetMember(ctx context.Context, instanceID string) (*model.FleetMember, error)
	DeleteMember(ctx context.Context, instanceID string) error

	RecordHeartbeat(ctx context.Context, instanceID string) (*model.Heartbeat, error)
	LatestHeartbeat(ctx context.Context, instanceID string) (*model.Heartbeat, error)
	PruneHeartbeats(ctx context.Context, instanceID string, olderThan time.Time) (int64, error)

	SetLeader(ctx context.Context, instanceID string, isLeader bool) error
	ForceLeader(ctx context.Context, instanceID string) error
	OldestAliveMemberID(ctx context.Context, threshold time.Duration) (string, error)
	EvictStale(ctx context.Context, threshold time.Duration, excludeID string) (int64, error)
}

// Reconciler runs one election cycle.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}
