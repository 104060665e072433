// Package pairing implements the pairing lifecycle behind the HTTP API:
// creation with role-bound tokens, status views, and teardown.
package pairing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/store"
	"github.com/walletabi/relaygo/internal/token"
	"github.com/walletabi/relaygo/internal/transport"
)

// ErrNotFound mirrors the store's miss for callers that only import this
// package.
var ErrNotFound = store.ErrNotFound

// ErrTTLExceeded reports a requested lifetime above the relay's ceiling.
var ErrTTLExceeded = errors.New("pairing: ttl_ms exceeds the maximum lifetime")

// Manager owns pairing creation and teardown. One instance serves the
// whole process.
type Manager struct {
	store       *store.Store
	secret      []byte
	maxTTLMs    int64
	publicWsURL string
}

func NewManager(st *store.Store, secret []byte, maxTTLMs int64, publicWsURL string) *Manager {
	return &Manager{
		store:       st,
		secret:      secret,
		maxTTLMs:    maxTTLMs,
		publicWsURL: publicWsURL,
	}
}

// CreateInput carries the caller-supplied fields for Create.
type CreateInput struct {
	Origin    string `json:"origin"`
	RequestID string `json:"request_id"`
	Network   string `json:"network"`
	TTLMs     int64  `json:"ttl_ms"`
}

// CreateResult is what the web client needs to open its relay connection
// and to build the QR payload handed to the phone.
type CreateResult struct {
	PairingID   string `json:"pairing_id"`
	RelayWsURL  string `json:"relay_ws_url"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
	WebToken    string `json:"web_token"`
	PhoneToken  string `json:"phone_token"`
}

// StatusView is the API shape of a pairing's current state.
type StatusView struct {
	PairingID          string              `json:"pairing_id"`
	Origin             string              `json:"origin"`
	RequestID          string              `json:"request_id"`
	Network            string              `json:"network"`
	State              models.PairingState `json:"state"`
	CreatedAtMs        int64               `json:"created_at_ms"`
	ExpiresAtMs        int64               `json:"expires_at_ms"`
	WebConnectedAtMs   *int64              `json:"web_connected_at_ms,omitempty"`
	PhoneConnectedAtMs *int64              `json:"phone_connected_at_ms,omitempty"`
	ClosedAtMs         *int64              `json:"closed_at_ms,omitempty"`
	LastError          *string             `json:"last_error,omitempty"`
	MessageCount       int64               `json:"message_count"`
	PendingCount       int64               `json:"pending_count"`
}

// Create validates the input, persists a new pairing, and issues one
// token per role. Both tokens expire with the pairing itself.
func (m *Manager) Create(in CreateInput) (*CreateResult, error) {
	if err := transport.ValidateHTTPSURL(in.Origin, "origin"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.RequestID) == "" {
		return nil, errors.New("pairing: request_id must not be blank")
	}
	if strings.TrimSpace(in.Network) == "" {
		return nil, errors.New("pairing: network must not be blank")
	}
	if in.TTLMs <= 0 {
		return nil, errors.New("pairing: ttl_ms must be positive")
	}
	if in.TTLMs > m.maxTTLMs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTTLExceeded, in.TTLMs, m.maxTTLMs)
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	pairingID := uuid.New().String()
	expiresAtMs := nowMs + in.TTLMs
	expiresAt := time.UnixMilli(expiresAtMs)

	webToken, err := token.Sign(m.secret, pairingID, transport.RoleWeb, expiresAt)
	if err != nil {
		return nil, err
	}
	phoneToken, err := token.Sign(m.secret, pairingID, transport.RolePhone, expiresAt)
	if err != nil {
		return nil, err
	}

	p := &models.Pairing{
		PairingID:   pairingID,
		Origin:      in.Origin,
		RequestID:   in.RequestID,
		Network:     in.Network,
		CreatedAtMs: nowMs,
		ExpiresAtMs: expiresAtMs,
		State:       models.PairingStateCreated,
	}
	if err := m.store.CreatePairing(p); err != nil {
		return nil, err
	}

	_ = m.store.AddEvent(pairingID, "pairing_created", map[string]interface{}{
		"origin": in.Origin,
		"ttl_ms": in.TTLMs,
	}, nowMs)

	return &CreateResult{
		PairingID:   pairingID,
		RelayWsURL:  m.publicWsURL,
		ExpiresAtMs: expiresAtMs,
		WebToken:    webToken,
		PhoneToken:  phoneToken,
	}, nil
}

// Get returns the status view of one pairing, including message counts.
func (m *Manager) Get(pairingID string) (*StatusView, error) {
	p, err := m.store.GetPairing(pairingID)
	if err != nil {
		return nil, err
	}

	total, pending, err := m.store.MessageCounts(pairingID)
	if err != nil {
		return nil, err
	}

	return &StatusView{
		PairingID:          p.PairingID,
		Origin:             p.Origin,
		RequestID:          p.RequestID,
		Network:            p.Network,
		State:              p.State,
		CreatedAtMs:        p.CreatedAtMs,
		ExpiresAtMs:        p.ExpiresAtMs,
		WebConnectedAtMs:   p.WebConnectedAtMs,
		PhoneConnectedAtMs: p.PhoneConnectedAtMs,
		ClosedAtMs:         p.ClosedAtMs,
		LastError:          p.LastError,
		MessageCount:       total,
		PendingCount:       pending,
	}, nil
}

// Delete removes a pairing and everything scoped to it. Unknown ids
// succeed so that retried deletes stay idempotent.
func (m *Manager) Delete(pairingID string) error {
	return m.store.DeletePairing(pairingID)
}

// Secret exposes the signing secret for the relay handshake verifier.
func (m *Manager) Secret() []byte {
	return m.secret
}
