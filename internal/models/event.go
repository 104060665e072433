package models

import "gorm.io/datatypes"

// Event is an append-only audit record of a state transition or protocol
// anomaly, scoped to a pairing. Events are never mutated; the janitor
// prunes them past the retention window.
type Event struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PairingID   string         `gorm:"not null;index" json:"pairing_id"`
	EventType   string         `gorm:"not null" json:"event_type"`
	Detail      datatypes.JSON `json:"detail"`
	CreatedAtMs int64          `gorm:"not null;index" json:"created_at_ms"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "events"
}
