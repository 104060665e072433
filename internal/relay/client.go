package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletabi/relaygo/internal/transport"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer: the ciphertext bound plus
	// headroom for base64 expansion and the JSON framing around it.
	maxFrameSize = transport.MaxDecodedBytes*2 + 8*1024
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	server *Server
	conn   *websocket.Conn

	// Buffered channel of outbound frames. Never closed; done signals
	// teardown instead, so queueing goroutines cannot hit a closed
	// channel when a connection is superseded mid-send.
	send chan []byte
	done chan struct{}

	// Set once the handshake succeeds.
	pairingID string
	role      transport.Role
	authed    bool

	closeOnce sync.Once
}

// SendFrame queues a server frame for delivery. A full buffer drops the
// frame; durable state lives in the store, so a reconnecting peer picks
// anything dropped back up from the backlog.
func (c *Client) SendFrame(frame *ServerFrame) bool {
	msg, err := json.Marshal(frame)
	if err != nil {
		log.Printf("WS marshal error: %v", err)
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// sendFrameWait queues a server frame, waiting up to writeWait for
// buffer space. Backlog replay uses this so a backlog longer than the
// send buffer reaches a connected peer instead of being dropped.
func (c *Client) sendFrameWait(frame *ServerFrame) bool {
	msg, err := json.Marshal(frame)
	if err != nil {
		log.Printf("WS marshal error: %v", err)
		return false
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	case <-time.After(writeWait):
		return false
	}
}

// closeSend tears the connection down from the server side. writePump
// sends the close message once it sees done.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps frames from the websocket connection into the server's
// frame handlers. The first frame must be a successful auth; anything
// else closes the socket without explanation.
func (c *Client) readPump() {
	defer func() {
		c.server.handleDisconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WS error: %v", err)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			if !c.authed {
				return
			}
			c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "malformed frame"})
			continue
		}

		if !c.authed {
			if frame.Type != FrameAuth || !c.server.handleAuth(c, &frame) {
				return
			}
			continue
		}

		switch frame.Type {
		case FramePublish:
			c.server.handlePublish(c, &frame)
		case FrameAck:
			c.server.handleAck(c, &frame)
		default:
			c.SendFrame(&ServerFrame{Type: FrameError, Code: CodeBadFrame, Message: "unknown frame type"})
		}
	}
}

// writePump pumps frames from the send channel to the websocket
// connection and keeps the ping ticker running.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
