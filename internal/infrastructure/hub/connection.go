package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pairlink/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one websocket owned by a single peer identity for its
// whole lifetime. All writes funnel through a buffered channel into one write
// loop, so concurrent broadcasters never interleave frames. A send to a
// closed or saturated connection is dropped, not retried; retryable delivery
// belongs to the mailbox.
type Connection struct {
	ID     domain.ConnectionID
	PeerID domain.PeerID

	ws           *websocket.Conn
	send         chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration

	once  sync.Once
	close chan struct{}
}

var errConnectionClosed = errors.New("connection closed")

// NewConnection constructs a Connection for the given peer identity.
func NewConnection(peerID domain.PeerID, ws *websocket.Conn, sendBuffer int, pingInterval, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 128
	}
	return &Connection{
		ID:           domain.ConnectionID(uuid.NewString()),
		PeerID:       peerID,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		close:        make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send marshals and enqueues an envelope. A full buffer closes the connection
// to keep backpressure bounded; the peer is expected to reconnect.
func (c *Connection) Send(env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.close:
		return errConnectionClosed
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close terminates the connection and stops the write loop.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeTimeout))
		_ = c.ws.Close()
	})
}

// Closed reports whether Close has run.
func (c *Connection) Closed() bool {
	select {
	case <-c.close:
		return true
	default:
		return false
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writePing(); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeMessage(payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) writePing() error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}
