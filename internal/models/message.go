package models

import "github.com/walletabi/relaygo/internal/transport"

// Message is one ciphertext unit traveling in one direction within a
// pairing. (pairing_id, msg_id) is unique, which is what makes duplicate
// publishes idempotent; msg_id is chosen by the caller and must be stable
// across the caller's own retries. A row with acked_at_ms unset is
// eligible for redelivery on reconnect.
type Message struct {
	ID            int64               `gorm:"primaryKey;autoIncrement" json:"id"`
	PairingID     string              `gorm:"not null;uniqueIndex:idx_messages_pairing_msg;index:idx_messages_pairing_direction" json:"pairing_id"`
	Direction     transport.Direction `gorm:"not null;index:idx_messages_pairing_direction" json:"direction"`
	MsgID         string              `gorm:"not null;uniqueIndex:idx_messages_pairing_msg" json:"msg_id"`
	NonceB64      string              `gorm:"not null" json:"nonce_b64"`
	CiphertextB64 string              `gorm:"not null" json:"ciphertext_b64"`
	CreatedAtMs   int64               `gorm:"not null" json:"created_at_ms"`
	AckedAtMs     *int64              `json:"acked_at_ms,omitempty"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}
