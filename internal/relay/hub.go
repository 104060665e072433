package relay

import (
	"sync"

	"github.com/walletabi/relaygo/internal/transport"
)

// pairingPeers holds the at-most-one live connection per role.
type pairingPeers struct {
	web   *Client
	phone *Client
}

// Hub tracks which peer connections are currently attached to which
// pairing. It is pure in-memory bookkeeping; the store stays the source
// of truth for everything durable.
type Hub struct {
	mu       sync.RWMutex
	pairings map[string]*pairingPeers
}

func NewHub() *Hub {
	return &Hub{pairings: make(map[string]*pairingPeers)}
}

// Attach registers client as the live connection for its role and
// returns the connection it superseded, if any. Last writer wins: the
// newest authenticated socket for a role is always the current one.
func (h *Hub) Attach(pairingID string, role transport.Role, client *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.pairings[pairingID]
	if !ok {
		peers = &pairingPeers{}
		h.pairings[pairingID] = peers
	}

	var old *Client
	switch role {
	case transport.RoleWeb:
		old = peers.web
		peers.web = client
	case transport.RolePhone:
		old = peers.phone
		peers.phone = client
	}
	return old
}

// DetachIfCurrent removes client from its pairing slot, but only if it
// is still the current connection for that role. A superseded socket
// detaching late must not evict its replacement. Returns whether the
// client was current.
func (h *Hub) DetachIfCurrent(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.pairings[client.pairingID]
	if !ok {
		return false
	}

	current := false
	switch client.role {
	case transport.RoleWeb:
		if peers.web == client {
			peers.web = nil
			current = true
		}
	case transport.RolePhone:
		if peers.phone == client {
			peers.phone = nil
			current = true
		}
	}

	if peers.web == nil && peers.phone == nil {
		delete(h.pairings, client.pairingID)
	}
	return current
}

// Peer returns the live connection for role within a pairing, or nil.
func (h *Hub) Peer(pairingID string, role transport.Role) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers, ok := h.pairings[pairingID]
	if !ok {
		return nil
	}
	if role == transport.RoleWeb {
		return peers.web
	}
	return peers.phone
}

// ClosePairing disconnects both peers of a pairing, if attached. Used
// when a pairing is deleted through the API while sockets are live.
func (h *Hub) ClosePairing(pairingID string) {
	h.mu.Lock()
	peers, ok := h.pairings[pairingID]
	if ok {
		delete(h.pairings, pairingID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if peers.web != nil {
		peers.web.closeSend()
	}
	if peers.phone != nil {
		peers.phone.closeSend()
	}
}
