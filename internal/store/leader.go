package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/obot-platform/fleetgate/internal/model"
)

// --- Leader Election ---

// hasHeartbeatSince matches members with at least one heartbeat at or after
// the bound cutoff.
const hasHeartbeatSince = `EXISTS (
	SELECT 1 FROM heartbeats h
	WHERE h.instance_id = fleet_members.instance_id AND h.recorded_at >= ?)`

// hasAnyHeartbeat matches members that have recorded at least one heartbeat.
const hasAnyHeartbeat = `EXISTS (
	SELECT 1 FROM heartbeats h
	WHERE h.instance_id = fleet_members.instance_id)`

// SetLeader updates the leader flag of one member. Setting true clears the
// flag on every other member in the same transaction, so no reader ever sees
// two leaders.
func (s *Store) SetLeader(ctx context.Context, instanceID string, isLeader bool) error {
	if !isLeader {
		result := s.db.WithContext(ctx).Model(&model.FleetMember{}).
			Where("instance_id = ?", instanceID).
			Update("is_leader", false)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return promote(tx, instanceID, nil)
	})
}

// ForceLeader pins leadership to the instance: all flags are cleared, the
// instance is flagged and its registered_at is rewritten to
// model.ForcedRegistrationTime so later oldest-first elections keep it.
func (s *Store) ForceLeader(ctx context.Context, instanceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		forced := model.ForcedRegistrationTime
		return promote(tx, instanceID, &forced)
	})
}

// promote clears every other leader flag and sets the target's. Rows other
// than the target are updated unconditionally so concurrent promotions
// serialize on the row locks.
func promote(tx *gorm.DB, instanceID string, registeredAt *time.Time) error {
	if err := tx.Model(&model.FleetMember{}).
		Where("instance_id <> ?", instanceID).
		Update("is_leader", false).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{"is_leader": true}
	if registeredAt != nil {
		updates["registered_at"] = *registeredAt
	}
	result := tx.Model(&model.FleetMember{}).
		Where("instance_id = ?", instanceID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// OldestAliveMemberID returns the member with the earliest registration among
// those that recorded a heartbeat within threshold. Returns "" if none qualify.
func (s *Store) OldestAliveMemberID(ctx context.Context, threshold time.Duration) (string, error) {
	cutoff := s.clock.Now().Add(-threshold)

	var ids []string
	err := s.db.WithContext(ctx).Model(&model.FleetMember{}).
		Where(hasHeartbeatSince, cutoff).
		Order("registered_at ASC, instance_id ASC").
		Limit(1).
		Pluck("instance_id", &ids).Error
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// EvictStale deletes every member that is not alive, except excludeID, along
// with its heartbeats. A member is alive if it has a heartbeat within
// threshold, or has no heartbeat at all and registered within threshold.
// Returns the number of members removed.
func (s *Store) EvictStale(ctx context.Context, threshold time.Duration, excludeID string) (int64, error) {
	cutoff := s.clock.Now().Add(-threshold)

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []string
		err := tx.Model(&model.FleetMember{}).
			Where("instance_id <> ?", excludeID).
			Where("NOT "+hasHeartbeatSince, cutoff).
			Where("("+hasAnyHeartbeat+" OR registered_at < ?)", cutoff).
			Pluck("instance_id", &stale).Error
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}

		if err := tx.Where("instance_id IN ?", stale).Delete(&model.Heartbeat{}).Error; err != nil {
			return err
		}
		result := tx.Where("instance_id IN ?", stale).Delete(&model.FleetMember{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	return removed, err
}
