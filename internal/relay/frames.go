package relay

import "github.com/walletabi/relaygo/internal/transport"

// Frame type tags. Clients send auth, publish, and ack; the server sends
// ack, deliver, status, and error.
const (
	FrameAuth    = "auth"
	FramePublish = "publish"
	FrameAck     = "ack"
	FrameDeliver = "deliver"
	FrameStatus  = "status"
	FrameError   = "error"
)

// Status values carried by status frames. connected confirms the
// receiver's own handshake; the peer_* values report the counterpart.
const (
	StatusConnected        = "connected"
	StatusPeerConnected    = "peer_connected"
	StatusPeerDisconnected = "peer_disconnected"
)

// Error codes carried by error frames after a successful handshake.
// Handshake failures themselves never get a code: the socket is closed
// without diagnostics so probes learn nothing about why.
const (
	CodeBadFrame      = "bad_frame"
	CodePairingClosed = "pairing_closed"
	CodeInternal      = "internal"
)

// ClientFrame is every message a peer may send, flattened into one
// struct. Type selects which fields are meaningful.
type ClientFrame struct {
	Type string `json:"type"`

	// auth
	PairingID string         `json:"pairing_id,omitempty"`
	Role      transport.Role `json:"role,omitempty"`
	Token     string         `json:"token,omitempty"`

	// publish and ack
	MsgID         string              `json:"msg_id,omitempty"`
	Direction     transport.Direction `json:"direction,omitempty"`
	NonceB64      string              `json:"nonce_b64,omitempty"`
	CiphertextB64 string              `json:"ciphertext_b64,omitempty"`
}

// ServerFrame is every message the relay sends, flattened the same way.
type ServerFrame struct {
	Type string `json:"type"`

	PairingID string `json:"pairing_id,omitempty"`

	// deliver and ack
	MsgID         string              `json:"msg_id,omitempty"`
	Direction     transport.Direction `json:"direction,omitempty"`
	NonceB64      string              `json:"nonce_b64,omitempty"`
	CiphertextB64 string              `json:"ciphertext_b64,omitempty"`

	// status
	Status string         `json:"status,omitempty"`
	Role   transport.Role `json:"role,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
