package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/hub"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState is the externally visible state of the hub socket.
type ConnState string

const (
	ConnIdle         ConnState = "idle"
	ConnConnecting   ConnState = "connecting"
	ConnOpen         ConnState = "open"
	ConnReconnecting ConnState = "reconnecting"
	ConnClosed       ConnState = "closed"
)

// reconnectInterval is fixed, not exponential. A dropped hub connection is
// retried unconditionally at this interval while the client stays enabled.
const reconnectInterval = 2 * time.Second

// Handlers receives decoded hub events. Nil fields are skipped.
type Handlers struct {
	OnConnected      func()
	OnSignal         func(*domain.Signal)
	OnPresenceSync   func([]domain.PresenceRecord)
	OnPresenceUpdate func(domain.PresenceRecord)
	OnTyping         func(domain.TypingEvent)
	OnMessageNew     func(domain.ChatMessage)
	OnMessageStatus  func(domain.MessageStatusUpdate)
	OnServerError    func(string)
	OnDisconnected   func(error)
}

// HubClient maintains one control-channel connection to the hub: hello
// handshake, event dispatch, and automatic fixed-interval reconnect.
type HubClient struct {
	url      string
	peerID   domain.PeerID
	handlers Handlers
	dialer   *websocket.Dialer
	clock    Clock
	logger   *zap.SugaredLogger

	mu             sync.Mutex
	ws             *websocket.Conn
	state          ConnState
	lastErr        error
	enabled        bool
	reconnectTimer Timer
}

func NewHubClient(url string, peerID domain.PeerID, handlers Handlers, logger *zap.SugaredLogger) *HubClient {
	return &HubClient{
		url:      url,
		peerID:   peerID,
		handlers: handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		clock:    SystemClock(),
		state:    ConnIdle,
		logger:   logger,
	}
}

// Connect dials the hub and performs the hello handshake. The client keeps
// reconnecting on its own after unexpected closes until Close is called.
func (c *HubClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.enabled = true
	c.state = ConnConnecting
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *HubClient) dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.setError(err)
		c.scheduleReconnect()
		return err
	}

	hello, _ := json.Marshal(hub.Envelope{
		Type:    hub.KindHello,
		Payload: mustMarshal(hub.HelloPayload{PeerID: c.peerID}),
	})
	if err := ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		ws.Close()
		c.setError(err)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = ConnOpen
	c.lastErr = nil
	c.mu.Unlock()

	go c.readPump(ws)
	return nil
}

// readPump decodes frames until the connection dies, then triggers the
// reconnect cycle.
func (c *HubClient) readPump(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		var env hub.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warnw("dropping malformed hub frame", "error", err)
			continue
		}
		c.dispatch(&env)
	}
}

func (c *HubClient) dispatch(env *hub.Envelope) {
	switch env.Type {
	case hub.KindHelloAck:
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected()
		}

	case hub.KindSignal:
		var signal domain.Signal
		if json.Unmarshal(env.Payload, &signal) == nil && c.handlers.OnSignal != nil {
			c.handlers.OnSignal(&signal)
		}

	case hub.KindSignalAck:
		// Submission confirmations carry no client-side state.

	case hub.KindPresenceSync:
		var records []domain.PresenceRecord
		if json.Unmarshal(env.Payload, &records) == nil && c.handlers.OnPresenceSync != nil {
			c.handlers.OnPresenceSync(records)
		}

	case hub.KindPresenceUpdate:
		var record domain.PresenceRecord
		if json.Unmarshal(env.Payload, &record) == nil && c.handlers.OnPresenceUpdate != nil {
			c.handlers.OnPresenceUpdate(record)
		}

	case hub.KindTyping:
		var event domain.TypingEvent
		if json.Unmarshal(env.Payload, &event) == nil && c.handlers.OnTyping != nil {
			c.handlers.OnTyping(event)
		}

	case hub.KindMessageNew:
		var msg domain.ChatMessage
		if json.Unmarshal(env.Payload, &msg) == nil && c.handlers.OnMessageNew != nil {
			c.handlers.OnMessageNew(msg)
		}

	case hub.KindMessageStatusUpdate:
		var update domain.MessageStatusUpdate
		if json.Unmarshal(env.Payload, &update) == nil && c.handlers.OnMessageStatus != nil {
			c.handlers.OnMessageStatus(update)
		}

	case hub.KindPong:
		// Keepalive reply, nothing to do.

	case hub.KindError:
		c.logger.Warnw("hub reported error", "error", env.Error)
		if c.handlers.OnServerError != nil {
			c.handlers.OnServerError(env.Error)
		}

	default:
		c.logger.Debugw("ignoring unknown hub envelope", "type", env.Type)
	}
}

func (c *HubClient) handleDisconnect(err error) {
	c.mu.Lock()
	c.ws = nil
	enabled := c.enabled
	if enabled {
		c.state = ConnReconnecting
		c.lastErr = err
	}
	c.mu.Unlock()

	if !enabled {
		return
	}

	c.logger.Infow("hub connection lost, reconnecting",
		"peer_id", c.peerID,
		"interval", reconnectInterval,
		"error", err,
	)
	if c.handlers.OnDisconnected != nil {
		c.handlers.OnDisconnected(err)
	}
	c.scheduleReconnect()
}

func (c *HubClient) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = c.clock.AfterFunc(reconnectInterval, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		enabled := c.enabled
		c.mu.Unlock()
		if enabled {
			_ = c.dial(context.Background())
		}
	})
}

func (c *HubClient) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	if c.enabled {
		c.state = ConnReconnecting
	}
	c.mu.Unlock()
}

// send marshals and writes one envelope. Returns ErrTransportLost when no
// live connection exists so callers can fall back to the HTTP mailbox path.
func (c *HubClient) send(kind string, payload interface{}) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return domain.ErrTransportLost
	}

	env := hub.Envelope{Type: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = data
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return domain.ErrTransportLost
	}
	return nil
}

// SendSignal relays a negotiation signal through the hub.
func (c *HubClient) SendSignal(payload hub.SignalPayload) error {
	return c.send(hub.KindSignal, payload)
}

func (c *HubClient) SendTyping(recipient domain.PeerID, state domain.TypingState) error {
	now := c.clock.Now()
	return c.send(hub.KindTyping, hub.TypingPayload{
		RecipientID: recipient,
		State:       state,
		Timestamp:   &now,
	})
}

func (c *HubClient) SendPresence(status domain.PresenceStatus) error {
	return c.send(hub.KindPresence, hub.PresencePayload{Status: status})
}

func (c *HubClient) SendMessage(msg *domain.ChatMessage) error {
	return c.send(hub.KindMessage, msg)
}

func (c *HubClient) SendMessageStatus(update hub.MessageStatusPayload) error {
	return c.send(hub.KindMessageStatus, update)
}

func (c *HubClient) Ping() error {
	return c.send(hub.KindPing, nil)
}

// State reports socket state and the last transport error for callers that
// surface connection status instead of raising on transient conditions.
func (c *HubClient) State() (ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Close disables reconnection and tears down the socket.
func (c *HubClient) Close() error {
	c.mu.Lock()
	c.enabled = false
	c.state = ConnClosed
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return ws.Close()
	}
	return nil
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
