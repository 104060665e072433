// Package relay implements the websocket rendezvous between the web and
// phone peers of a pairing. The relay never sees plaintext: it forwards
// opaque ciphertext and keeps just enough durable state to survive
// either peer reconnecting.
package relay

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletabi/relaygo/internal/models"
	"github.com/walletabi/relaygo/internal/store"
	"github.com/walletabi/relaygo/internal/token"
	"github.com/walletabi/relaygo/internal/transport"
)

// maxCiphertextBytes bounds a published ciphertext: the plaintext bound
// plus headroom for the AEAD tag.
const maxCiphertextBytes = transport.MaxDecodedBytes + 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The pairing token is the access control; the browser origin is not.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server authenticates peers, persists published ciphertext, and fans
// frames out to whichever peer is live.
type Server struct {
	store  *store.Store
	secret []byte
	hub    *Hub

	// nowMs is stubbed in tests.
	nowMs func() int64
}

func NewServer(st *store.Store, secret []byte) *Server {
	return &Server{
		store:  st,
		secret: secret,
		hub:    NewHub(),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// ServeWS upgrades an HTTP request and starts the connection pumps. The
// connection stays anonymous until its first frame authenticates it.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS upgrade failed: %v", err)
		return
	}

	client := &Client{server: s, conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
	go client.writePump()
	go client.readPump()
}

// ClosePairing disconnects any live peers of a pairing. Called by the
// API layer when a pairing is deleted.
func (s *Server) ClosePairing(pairingID string) {
	s.hub.ClosePairing(pairingID)
}

// handleAuth validates the first frame of a connection. Every failure
// path returns false and nothing else: the socket is closed without a
// reason, and the cause goes to the audit log instead of the caller.
func (s *Server) handleAuth(c *Client, frame *ClientFrame) bool {
	if frame.PairingID == "" || !frame.Role.Valid() {
		return false
	}

	p, err := s.store.GetPairing(frame.PairingID)
	if err != nil {
		return false
	}

	nowMs := s.nowMs()
	if p.Closed() {
		return false
	}
	if nowMs > p.ExpiresAtMs {
		// Expiry observed before the janitor got to it. Close it now.
		if err := s.store.SetState(p.PairingID, models.PairingStateClosed, nowMs, models.LastErrorExpired); err != nil {
			log.Printf("WS expire at auth failed for %s: %v", p.PairingID, err)
		}
		s.addEvent(p.PairingID, "pairing_expired", map[string]interface{}{"expires_at_ms": p.ExpiresAtMs}, nowMs)
		return false
	}

	if _, err := token.Verify(s.secret, frame.Token, frame.PairingID, frame.Role); err != nil {
		s.addEvent(p.PairingID, "auth_rejected", map[string]interface{}{"role": frame.Role}, nowMs)
		return false
	}

	c.pairingID = frame.PairingID
	c.role = frame.Role
	c.authed = true

	if old := s.hub.Attach(c.pairingID, c.role, c); old != nil {
		old.closeSend()
		s.addEvent(c.pairingID, "peer_superseded", map[string]interface{}{"role": c.role}, nowMs)
	}

	if err := s.store.MarkPeerConnected(c.pairingID, c.role, nowMs); err != nil {
		log.Printf("WS mark connected failed for %s: %v", c.pairingID, err)
	}
	s.advanceStateOnConnect(p, c.role)
	s.addEvent(c.pairingID, "peer_connected", map[string]interface{}{"role": c.role}, nowMs)

	c.SendFrame(&ServerFrame{Type: FrameStatus, PairingID: c.pairingID, Status: StatusConnected, Role: c.role})

	counterpartRole := transport.RoleWeb
	if c.role == transport.RoleWeb {
		counterpartRole = transport.RolePhone
	}
	if counterpart := s.hub.Peer(c.pairingID, counterpartRole); counterpart != nil {
		counterpart.SendFrame(&ServerFrame{Type: FrameStatus, PairingID: c.pairingID, Status: StatusPeerConnected, Role: c.role})
		c.SendFrame(&ServerFrame{Type: FrameStatus, PairingID: c.pairingID, Status: StatusPeerConnected, Role: counterpartRole})
	}

	s.deliverBacklog(c)

	log.Printf("🔗 Peer connected: pairing=%s role=%s", c.pairingID, c.role)
	return true
}

// advanceStateOnConnect moves the pairing forward when a peer attaches:
// created goes to the role's connected state, and the counterpart's
// connected state goes to active.
func (s *Server) advanceStateOnConnect(p *models.Pairing, role transport.Role) {
	var next models.PairingState
	switch {
	case p.State == models.PairingStateCreated && role == transport.RoleWeb:
		next = models.PairingStateWebConnected
	case p.State == models.PairingStateCreated && role == transport.RolePhone:
		next = models.PairingStatePhoneConnected
	case p.State == models.PairingStateWebConnected && role == transport.RolePhone:
		next = models.PairingStateActive
	case p.State == models.PairingStatePhoneConnected && role == transport.RoleWeb:
		next = models.PairingStateActive
	default:
		return
	}

	if err := s.store.SetState(p.PairingID, next, 0, ""); err != nil {
		// The sweep may have closed the pairing after our read; the
		// stale transition loses and the next frame gets rejected.
		if !errors.Is(err, store.ErrClosed) {
			log.Printf("WS state advance failed for %s: %v", p.PairingID, err)
		}
		return
	}
	p.State = next
}

// deliverBacklog replays every unacked message addressed to the client's
// role, oldest first.
func (s *Server) deliverBacklog(c *Client) {
	direction := transport.DirectionToward(c.role)
	pending, err := s.store.PendingMessages(c.pairingID, direction)
	if err != nil {
		log.Printf("WS backlog load failed for %s: %v", c.pairingID, err)
		return
	}

	for i := range pending {
		m := &pending[i]
		ok := c.sendFrameWait(&ServerFrame{
			Type:          FrameDeliver,
			PairingID:     m.PairingID,
			MsgID:         m.MsgID,
			Direction:     m.Direction,
			NonceB64:      m.NonceB64,
			CiphertextB64: m.CiphertextB64,
		})
		if !ok {
			// Stalled writer. The rest stays unacked for the next connect.
			log.Printf("WS backlog replay stalled for %s at %s", c.pairingID, m.MsgID)
			return
		}
	}
}

// handlePublish persists a ciphertext unit and forwards it to the
// counterpart if one is live. Persist happens first: a message the
// sender got an ack for survives any crash after that point.
func (s *Server) handlePublish(c *Client, frame *ClientFrame) {
	if frame.PairingID != "" && frame.PairingID != c.pairingID {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "pairing_id does not match this connection"})
		return
	}
	if frame.MsgID == "" {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "msg_id must not be empty"})
		return
	}
	if !frame.Direction.Valid() || frame.Direction.SenderRole() != c.role {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "direction does not match this role"})
		return
	}
	if _, err := transport.DecodeNonceB64(frame.NonceB64); err != nil {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, MsgID: frame.MsgID, Message: "invalid nonce"})
		return
	}
	ciphertext, err := transport.DecodeCiphertextB64(frame.CiphertextB64)
	if err != nil || len(ciphertext) == 0 || len(ciphertext) > maxCiphertextBytes {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, MsgID: frame.MsgID, Message: "invalid ciphertext"})
		return
	}

	nowMs := s.nowMs()
	p, err := s.store.GetPairing(c.pairingID)
	if err != nil || p.Closed() || nowMs > p.ExpiresAtMs {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodePairingClosed, MsgID: frame.MsgID, Message: "pairing is no longer live"})
		return
	}

	err = s.store.InsertMessage(&models.Message{
		PairingID:     c.pairingID,
		Direction:     frame.Direction,
		MsgID:         frame.MsgID,
		NonceB64:      frame.NonceB64,
		CiphertextB64: frame.CiphertextB64,
		CreatedAtMs:   nowMs,
	})
	if errors.Is(err, store.ErrDuplicateMessage) {
		// Retried publish. Re-ack so the sender can stop retrying, but
		// do not deliver the payload a second time.
		c.SendFrame(&ServerFrame{Type: FrameAck, PairingID: c.pairingID, MsgID: frame.MsgID, Direction: frame.Direction})
		return
	}
	if err != nil {
		log.Printf("WS publish persist failed for %s: %v", c.pairingID, err)
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeInternal, MsgID: frame.MsgID, Message: "persist failed"})
		return
	}

	s.addEvent(c.pairingID, "message_published", map[string]interface{}{
		"msg_id":    frame.MsgID,
		"direction": frame.Direction,
		"bytes":     len(ciphertext),
	}, nowMs)

	c.SendFrame(&ServerFrame{Type: FrameAck, PairingID: c.pairingID, MsgID: frame.MsgID, Direction: frame.Direction})

	if receiver := s.hub.Peer(c.pairingID, frame.Direction.ReceiverRole()); receiver != nil {
		receiver.SendFrame(&ServerFrame{
			Type:          FrameDeliver,
			PairingID:     c.pairingID,
			MsgID:         frame.MsgID,
			Direction:     frame.Direction,
			NonceB64:      frame.NonceB64,
			CiphertextB64: frame.CiphertextB64,
		})
	}
}

// handleAck marks a delivered message as consumed so it drops out of the
// reconnect backlog. The ack only covers messages addressed to this
// role, so a publisher cannot suppress delivery of its own message.
// Acking twice is harmless.
func (s *Server) handleAck(c *Client, frame *ClientFrame) {
	if frame.PairingID != "" && frame.PairingID != c.pairingID {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "pairing_id does not match this connection"})
		return
	}
	if frame.MsgID == "" {
		c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "msg_id must not be empty"})
		return
	}

	nowMs := s.nowMs()
	if err := s.store.MarkMessageAcked(c.pairingID, frame.MsgID, transport.DirectionToward(c.role), nowMs); err != nil {
		log.Printf("WS ack persist failed for %s: %v", c.pairingID, err)
		return
	}
	s.addEvent(c.pairingID, "message_acked", map[string]interface{}{
		"msg_id": frame.MsgID,
		"role":   c.role,
	}, nowMs)
}

// handleDisconnect runs when a connection's read pump exits for any
// reason. Superseded sockets detach silently; only the current one
// produces a peer_disconnected.
func (s *Server) handleDisconnect(c *Client) {
	c.closeSend()
	if !c.authed {
		return
	}
	if !s.hub.DetachIfCurrent(c) {
		return
	}

	nowMs := s.nowMs()
	s.addEvent(c.pairingID, "peer_disconnected", map[string]interface{}{"role": c.role}, nowMs)

	counterpartRole := transport.RoleWeb
	if c.role == transport.RoleWeb {
		counterpartRole = transport.RolePhone
	}
	if counterpart := s.hub.Peer(c.pairingID, counterpartRole); counterpart != nil {
		counterpart.SendFrame(&ServerFrame{Type: FrameStatus, PairingID: c.pairingID, Status: StatusPeerDisconnected, Role: c.role})
	}

	log.Printf("📴 Peer disconnected: pairing=%s role=%s", c.pairingID, c.role)
}

func (s *Server) addEvent(pairingID, eventType string, detail map[string]interface{}, atMs int64) {
	if err := s.store.AddEvent(pairingID, eventType, detail, atMs); err != nil {
		log.Printf("WS event record failed for %s: %v", pairingID, err)
	}
}
