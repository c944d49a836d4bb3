// Package store provides fleet membership persistence using GORM.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations. Every call goes to the
// database; nothing is cached locally.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

// New creates a new Store with the given GORM DB. A nil clock uses real time.
func New(db *gorm.DB, c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{db: db, clock: c}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- Fleet Members ---

// Register records an instance as a fleet member. If the instance is already
// registered the existing row is returned unchanged.
func (s *Store) Register(ctx context.Context, instanceID, publicIP, privateIP string) (*model.FleetMember, error) {
	member := model.FleetMember{
		InstanceID:   instanceID,
		RegisteredAt: s.clock.Now(),
		PublicIP:     publicIP,
		PrivateIP:    privateIP,
	}
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		FirstOrCreate(&member).Error
	if err != nil {
		// A concurrent registration may have won the insert; return its row
		if existing, getErr := s.GetMember(ctx, instanceID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return &member, nil
}

// GetMember returns the fleet member with the given id.
func (s *Store) GetMember(ctx context.Context, instanceID string) (*model.FleetMember, error) {
	var member model.FleetMember
	if err := s.db.WithContext(ctx).First(&member, "instance_id = ?", instanceID).Error; err != nil {
		return nil, notFound(err)
	}
	return &member, nil
}

// ListMembers returns every fleet member, newest registration first.
func (s *Store) ListMembers(ctx context.Context) ([]*model.FleetMember, error) {
	var members []*model.FleetMember
	err := s.db.WithContext(ctx).
		Order("registered_at DESC, instance_id ASC").
		Find(&members).Error
	return members, err
}

// DeleteMember removes a fleet member and its heartbeats.
func (s *Store) DeleteMember(ctx context.Context, instanceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", instanceID).Delete(&model.Heartbeat{}).Error; err != nil {
			return err
		}
		return tx.Where("instance_id = ?", instanceID).Delete(&model.FleetMember{}).Error
	})
}

// --- Heartbeats ---

// RecordHeartbeat appends a liveness proof for the instance. It fails with
// ErrNotFound if the instance is not registered.
func (s *Store) RecordHeartbeat(ctx context.Context, instanceID string) (*model.Heartbeat, error) {
	var hb model.Heartbeat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.FleetMember{}).
			Where("instance_id = ?", instanceID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		now := s.clock.Now()

		// recorded_at must strictly increase per instance even if the
		// clock has not moved since the previous beat
		var latest model.Heartbeat
		err := tx.Where("instance_id = ?", instanceID).
			Order("recorded_at DESC").
			First(&latest).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && !now.After(latest.RecordedAt) {
			now = latest.RecordedAt.Add(time.Microsecond)
		}

		hb = model.Heartbeat{InstanceID: instanceID, RecordedAt: now}
		return tx.Create(&hb).Error
	})
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// LatestHeartbeat returns the most recent heartbeat for the instance.
func (s *Store) LatestHeartbeat(ctx context.Context, instanceID string) (*model.Heartbeat, error) {
	var hb model.Heartbeat
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("recorded_at DESC").
		First(&hb).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &hb, nil
}

// ListHeartbeats returns all retained heartbeats for the instance, newest first.
func (s *Store) ListHeartbeats(ctx context.Context, instanceID string) ([]*model.Heartbeat, error) {
	var hbs []*model.Heartbeat
	err := s.db.WithContext(ctx).
		Where("instance_id = ?", instanceID).
		Order("recorded_at DESC").
		Find(&hbs).Error
	return hbs, err
}

// PruneHeartbeats deletes the instance's heartbeats recorded before olderThan.
// Returns the number of rows removed.
func (s *Store) PruneHeartbeats(ctx context.Context, instanceID string, olderThan time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("instance_id = ? AND recorded_at < ?", instanceID, olderThan).
		Delete(&model.Heartbeat{})
	return result.RowsAffected, result.Error
}
