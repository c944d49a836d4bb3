// Package model defines the database models used by the gateway.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"time"
)

// ForcedRegistrationTime is written into registered_at by a force-leader
// override. It sorts before any real registration so the forced instance keeps
// winning oldest-first elections.
var ForcedRegistrationTime = time.Unix(0, 0).UTC()

// FleetMember is one registered gateway instance.
type FleetMember struct {
	InstanceID   string    `gorm:"column:instance_id;primaryKey;type:text" json:"instance_id"`
	RegisteredAt time.Time `gorm:"column:registered_at;not null;index" json:"registered_at"`
	IsLeader     bool      `gorm:"column:is_leader;not null;default:false" json:"is_leader"`
	PublicIP     string    `gorm:"column:public_ip;type:text" json:"public_ip"`
	PrivateIP    string    `gorm:"column:private_ip;type:text" json:"private_ip"`

	Heartbeats []Heartbeat `gorm:"foreignKey:InstanceID;references:InstanceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for FleetMember.
func (FleetMember) TableName() string { return "fleet_members" }

// Heartbeat is a single liveness proof written by an instance.
type Heartbeat struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceID string    `gorm:"column:instance_id;not null;type:text;index:idx_heartbeats_instance_recorded,priority:1" json:"instance_id"`
	RecordedAt time.Time `gorm:"column:recorded_at;not null;index:idx_heartbeats_instance_recorded,priority:2" json:"recorded_at"`
}

// TableName returns the table name for Heartbeat.
func (Heartbeat) TableName() string { return "heartbeats" }

// LeaderSnapshot is an instance's cached belief about its own leadership.
type LeaderSnapshot struct {
	SelfID        string    `json:"self_id"`
	PublicIP      string    `json:"public_ip"`
	PrivateIP     string    `json:"private_ip"`
	AmILeader     bool      `json:"am_i_leader"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// AllModels returns all model types for migration.
func AllModels() []interface{} {
	return []interface{}{
		&FleetMember{},
		&Heartbeat{},
	}
}

// Identity is how a gateway instance presents itself to the fleet.
type Identity struct {
	ID        string `json:"instance_id"`
	PublicIP  string `json:"public_ip"`
	PrivateIP string `json:"private_ip"`
}
