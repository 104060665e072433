package models

// PairingState tracks the lifecycle of a rendezvous session. Transitions
// are monotonic: a closed pairing is never resurrected.
type PairingState string

const (
	PairingStateCreated        PairingState = "created"
	PairingStateWebConnected   PairingState = "web_connected"
	PairingStatePhoneConnected PairingState = "phone_connected"
	PairingStateActive         PairingState = "active"
	PairingStateClosed         PairingState = "closed"
)

// LastErrorExpired is the last_error value set by the janitor's expiry sweep.
const LastErrorExpired = "expired"

// Pairing is one rendezvous session between exactly one web peer and one
// phone peer. Timestamps are unix milliseconds to match the wire format.
type Pairing struct {
	PairingID          string       `gorm:"primaryKey" json:"pairing_id"`
	Origin             string       `gorm:"not null" json:"origin"`
	RequestID          string       `gorm:"not null" json:"request_id"`
	Network            string       `gorm:"not null" json:"network"`
	CreatedAtMs        int64        `gorm:"not null" json:"created_at_ms"`
	ExpiresAtMs        int64        `gorm:"not null;index" json:"expires_at_ms"`
	State              PairingState `gorm:"not null;index;default:'created'" json:"state"`
	WebConnectedAtMs   *int64       `json:"web_connected_at_ms,omitempty"`
	PhoneConnectedAtMs *int64       `json:"phone_connected_at_ms,omitempty"`
	ClosedAtMs         *int64       `json:"closed_at_ms,omitempty"`
	LastError          *string      `json:"last_error,omitempty"`

	Messages []Message `gorm:"foreignKey:PairingID;references:PairingID;constraint:OnDelete:CASCADE" json:"-"`
	Events   []Event   `gorm:"foreignKey:PairingID;references:PairingID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Pairing
func (Pairing) TableName() string {
	return "pairings"
}

// Closed reports whether the pairing accepts no new activity.
func (p *Pairing) Closed() bool {
	return p.State == PairingStateClosed
}
