package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics receives hub activity counters. Implemented by the monitoring
// collector; a nil Metrics disables instrumentation.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	PeersOnline(count int)
	EnvelopeDispatched(kind string)
	HandshakeRejected()
	SignalStored(signalType string)
	SignalPushed()
	SignalsDrained(count int)
}

// Relay extends fan-out across hub instances. A targeted push that finds no
// local connection is handed to the relay; presence broadcasts go to both
// the local registry and the relay. Single-instance deployments run without
// one.
type Relay interface {
	PublishToPeer(ctx context.Context, peer domain.PeerID, env *Envelope) error
	PublishBroadcast(ctx context.Context, env *Envelope) error
	PeerConnected(ctx context.Context, peer domain.PeerID) error
	PeerDisconnected(ctx context.Context, peer domain.PeerID) error
}

// Hub owns the live connection registry and routes every envelope kind to its
// destination. One peer identity may hold several concurrent connections
// (multi-device); fan-out targets all of them. Negotiation signals are
// persisted through the mailbox before the push attempt, so recipients that
// are offline right now still receive them on their next handshake.
type Hub struct {
	mailbox  ports.MailboxService
	presence ports.PresenceService
	messages ports.MessageStore
	metrics  Metrics
	relay    Relay

	mu          sync.RWMutex
	connections map[domain.PeerID]map[domain.ConnectionID]*Connection

	pingInterval  time.Duration
	pongTimeout   time.Duration
	readTimeout   time.Duration
	writeTimeout  time.Duration
	sendBuffer    int
	drainInterval time.Duration
	maxFrameBytes int64

	closed    chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

func NewHub(mailbox ports.MailboxService, presence ports.PresenceService, messages ports.MessageStore, metrics Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		mailbox:       mailbox,
		presence:      presence,
		messages:      messages,
		metrics:       metrics,
		connections:   make(map[domain.PeerID]map[domain.ConnectionID]*Connection),
		pingInterval:  30 * time.Second,
		pongTimeout:   60 * time.Second,
		readTimeout:   60 * time.Second,
		writeTimeout:  10 * time.Second,
		sendBuffer:    128,
		drainInterval: 5 * time.Second,
		closed:        make(chan struct{}),
		logger:        logger,
	}
}

// SetTimeouts overrides the connection timing defaults.
func (h *Hub) SetTimeouts(ping, pong, read, write time.Duration) {
	h.pingInterval = ping
	h.pongTimeout = pong
	h.readTimeout = read
	h.writeTimeout = write
}

// SetSendBuffer overrides the per-connection outbound buffer size.
func (h *Hub) SetSendBuffer(size int) {
	h.sendBuffer = size
}

// SetDrainInterval overrides the background mailbox poll interval.
func (h *Hub) SetDrainInterval(interval time.Duration) {
	h.drainInterval = interval
}

// SetMaxFrameBytes caps inbound frame size; zero disables the cap.
func (h *Hub) SetMaxFrameBytes(limit int64) {
	h.maxFrameBytes = limit
}

// SetRelay attaches the cross-instance relay. Must be called before the hub
// starts accepting connections.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// pushToPeer fans out locally and falls through to the relay when the peer
// has no connection on this instance.
func (h *Hub) pushToPeer(peerID domain.PeerID, env *Envelope) int {
	n := h.BroadcastToPeer(peerID, env)
	if n == 0 && h.relay != nil {
		if err := h.relay.PublishToPeer(context.Background(), peerID, env); err != nil {
			h.logger.Warnw("relay publish failed",
				"peer_id", peerID,
				"kind", env.Type,
				"error", err,
			)
		}
	}
	return n
}

// broadcastEverywhere fans out to local connections and every other
// instance.
func (h *Hub) broadcastEverywhere(env *Envelope, exclude *Connection) {
	h.BroadcastAll(env, exclude)
	if h.relay != nil {
		if err := h.relay.PublishBroadcast(context.Background(), env); err != nil {
			h.logger.Warnw("relay broadcast failed",
				"kind", env.Type,
				"error", err,
			)
		}
	}
}

// DeliverLocal injects a relayed envelope into this instance's connections
// for one peer. Called by the relay's subscribe loop.
func (h *Hub) DeliverLocal(peerID domain.PeerID, env *Envelope) {
	h.BroadcastToPeer(peerID, env)
}

// DeliverBroadcast injects a relayed broadcast into every local connection.
func (h *Hub) DeliverBroadcast(env *Envelope) {
	h.BroadcastAll(env, nil)
}

// Shutdown closes every live connection. The hub cannot be restarted.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.closed)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for peerID, conns := range h.connections {
		for _, conn := range conns {
			conn.Close(websocket.CloseGoingAway, "hub shutting down")
		}
		delete(h.connections, peerID)
	}
}

// HandleWebSocket upgrades the request and runs the connection lifecycle:
// handshake, dispatch loop, close cleanup.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	if h.maxFrameBytes > 0 {
		ws.SetReadLimit(h.maxFrameBytes)
	}

	conn, err := h.handshake(ws)
	if err != nil {
		h.logger.Warnw("handshake rejected", "error", err, "remote", r.RemoteAddr)
		if h.metrics != nil {
			h.metrics.HandshakeRejected()
		}
		_ = ws.WriteJSON(errorEnvelope(err.Error()))
		_ = ws.Close()
		return
	}

	h.logger.Infow("peer connected",
		"peer_id", conn.PeerID,
		"connection_id", conn.ID,
	)

	h.serve(conn)
}

// handshake reads the first frame, which must be a hello envelope carrying a
// usable peer identity, then registers the connection and performs the
// ack → snapshot → self-broadcast sequence. The ordering guarantees a newly
// joined peer never sees its own online update before its snapshot.
func (h *Hub) handshake(ws *websocket.Conn) (*Connection, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, domain.ErrInvalidHandshake
	}

	env, err := ParseEnvelope(raw)
	if err != nil || env.Type != KindHello {
		return nil, domain.ErrInvalidHandshake
	}

	var hello HelloPayload
	if err := decodePayload(env, &hello); err != nil {
		return nil, domain.ErrInvalidHandshake
	}
	if strings.TrimSpace(string(hello.PeerID)) == "" {
		return nil, domain.ErrInvalidHandshake
	}

	conn := NewConnection(hello.PeerID, ws, h.sendBuffer, h.pingInterval, h.writeTimeout)
	conn.Start()

	h.register(conn)
	record := h.presence.Set(conn.PeerID, domain.PresenceOnline)

	// Ack first.
	ack, _ := newOutbound(KindHelloAck, HelloPayload{PeerID: conn.PeerID})
	if err := conn.Send(ack); err != nil {
		h.abortHandshake(conn)
		return nil, err
	}

	// Then the full presence snapshot.
	snapshot, _ := newOutbound(KindPresenceSync, h.presence.Snapshot())
	_ = conn.Send(snapshot)

	// Only now tell everyone else.
	update, _ := newOutbound(KindPresenceUpdate, record)
	h.broadcastEverywhere(update, conn)

	if h.relay != nil {
		if err := h.relay.PeerConnected(context.Background(), conn.PeerID); err != nil {
			h.logger.Warnw("relay peer registration failed",
				"peer_id", conn.PeerID,
				"error", err,
			)
		}
	}

	// The ack triggers exactly one mailbox drain for the fresh connection.
	h.drainAndPush(conn)

	return conn, nil
}

// abortHandshake backs out a registration whose ack never reached the peer.
// Losing the peer's last connection reverts the online record set during
// registration and broadcasts the correction, mirroring closeConnection.
func (h *Hub) abortHandshake(conn *Connection) {
	conn.Close(websocket.CloseInternalServerErr, "handshake failed")

	if h.unregister(conn) {
		record := h.presence.Set(conn.PeerID, domain.PresenceOffline)
		if update, err := newOutbound(KindPresenceUpdate, record); err == nil {
			h.broadcastEverywhere(update, nil)
		}
	}
}

// serve runs the per-connection inbound loop: a reader goroutine feeds a
// channel, and the select loop dispatches frames and runs the background
// mailbox poll until the connection dies.
func (h *Hub) serve(conn *Connection) {
	defer h.closeConnection(conn)

	ws := conn.ws
	_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
			frames <- raw
		}
	}()

	drainTicker := time.NewTicker(h.drainInterval)
	defer drainTicker.Stop()

	for {
		select {
		case raw := <-frames:
			h.Dispatch(conn, raw)

		case <-drainTicker.C:
			// Safety net for signals that arrived before the handshake
			// drain completed or that a concurrent push missed.
			h.drainAndPush(conn)

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Infow("connection read failed",
					"peer_id", conn.PeerID,
					"error", err,
				)
			}
			return

		case <-h.closed:
			return
		}
	}
}

// Dispatch routes one raw frame. Malformed or unknown frames produce an error
// envelope back to the sender and nothing else; the connection is not closed.
func (h *Hub) Dispatch(conn *Connection, raw []byte) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		h.logger.Debugw("malformed frame",
			"peer_id", conn.PeerID,
			"frame", utils.TruncateString(string(raw), 128),
			"error", err,
		)
		_ = conn.Send(errorEnvelope(err.Error()))
		return
	}

	if h.metrics != nil {
		h.metrics.EnvelopeDispatched(env.Type)
	}

	switch env.Type {
	case KindHello:
		// Identity is fixed for the connection lifetime.
		_ = conn.Send(errorEnvelope("already identified as " + string(conn.PeerID)))
	case KindSignal:
		err = h.handleSignal(conn, env)
	case KindTyping:
		err = h.handleTyping(conn, env)
	case KindPresence:
		err = h.handlePresence(conn, env)
	case KindMessage:
		err = h.handleMessage(conn, env)
	case KindMessageStatus:
		err = h.handleMessageStatus(conn, env)
	case KindPing:
		_ = conn.Send(pongEnvelope(time.Now()))
	}

	if err != nil {
		h.logger.Infow("envelope rejected",
			"peer_id", conn.PeerID,
			"kind", env.Type,
			"error", err,
		)
		_ = conn.Send(errorEnvelope(err.Error()))
	}
}

// handleSignal persists the negotiation step, then attempts the live push.
// Push success does not consume the signal; consumption happens on drain.
func (h *Hub) handleSignal(conn *Connection, env *Envelope) error {
	var payload SignalPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if payload.SenderID != "" && payload.SenderID != conn.PeerID {
		return errors.New("senderId mismatch: connection belongs to " + string(conn.PeerID))
	}

	signal := &domain.Signal{
		SessionID:   payload.SessionID,
		SenderID:    conn.PeerID,
		RecipientID: payload.RecipientID,
		Type:        payload.SignalType,
		Payload:     payload.Payload,
	}

	stored, err := h.mailbox.Submit(context.Background(), signal)
	if err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.SignalStored(string(stored.Type))
	}

	// Live push. Delivery to zero connections is fine; the stored copy is
	// drained on the recipient's next handshake.
	push, err := newOutbound(KindSignal, stored)
	if err == nil && h.pushToPeer(stored.RecipientID, push) > 0 {
		if h.metrics != nil {
			h.metrics.SignalPushed()
		}
	}

	ack, err := newOutbound(KindSignalAck, stored)
	if err != nil {
		return err
	}
	return conn.Send(ack)
}

// handleTyping relays to the named recipient only. Typing is transient:
// no persistence, no retry, lost frames self-correct via receiver timeout.
func (h *Hub) handleTyping(conn *Connection, env *Envelope) error {
	var payload TypingPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(string(payload.RecipientID)) == "" {
		return errors.New("typing recipientId is required")
	}
	if payload.State != domain.TypingStart && payload.State != domain.TypingStop {
		return errors.New("typing state must be start or stop")
	}

	ts := time.Now()
	if payload.Timestamp != nil {
		ts = *payload.Timestamp
	}
	conversation := payload.ConversationID
	if conversation == "" {
		conversation = domain.NewConversationID(conn.PeerID, payload.RecipientID)
	}

	event := domain.TypingEvent{
		SenderID:       conn.PeerID,
		RecipientID:    payload.RecipientID,
		ConversationID: conversation,
		State:          payload.State,
		Timestamp:      ts,
	}
	relay, err := newOutbound(KindTyping, event)
	if err != nil {
		return err
	}
	h.pushToPeer(payload.RecipientID, relay)
	return nil
}

func (h *Hub) handlePresence(conn *Connection, env *Envelope) error {
	var payload PresencePayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if !domain.ValidPresenceStatus(payload.Status) {
		return errors.New("presence status must be online, away, or offline")
	}

	record := h.presence.Set(conn.PeerID, payload.Status)
	update, err := newOutbound(KindPresenceUpdate, record)
	if err != nil {
		return err
	}
	h.broadcastEverywhere(update, conn)
	return nil
}

// handleMessage is the relay fallback for chat traffic when the direct
// channel is down: persist to the external store, then fan out to the
// recipient's live connections.
func (h *Hub) handleMessage(conn *Connection, env *Envelope) error {
	var msg domain.ChatMessage
	if err := decodePayload(env, &msg); err != nil {
		return err
	}
	if msg.SenderID != "" && msg.SenderID != conn.PeerID {
		return errors.New("senderId mismatch: connection belongs to " + string(conn.PeerID))
	}
	if strings.TrimSpace(string(msg.RecipientID)) == "" {
		return errors.New("message recipientId is required")
	}
	if msg.Content == "" {
		return errors.New("message content is required")
	}

	msg.SenderID = conn.PeerID
	if msg.ID == "" {
		msg.ID = domain.MessageID(uuid.NewString())
	}
	if msg.ConversationID == "" {
		msg.ConversationID = domain.NewConversationID(msg.SenderID, msg.RecipientID)
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	if err := h.messages.SaveMessage(context.Background(), &msg); err != nil {
		return err
	}
	_ = h.messages.SaveStatus(context.Background(), &domain.MessageStatusUpdate{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		Status:         domain.StatusSent,
		Timestamp:      msg.SentAt,
	})

	relay, err := newOutbound(KindMessageNew, msg)
	if err != nil {
		return err
	}
	h.pushToPeer(msg.RecipientID, relay)
	return nil
}

func (h *Hub) handleMessageStatus(conn *Connection, env *Envelope) error {
	var payload MessageStatusPayload
	if err := decodePayload(env, &payload); err != nil {
		return err
	}
	if strings.TrimSpace(string(payload.MessageID)) == "" {
		return errors.New("messageId is required")
	}
	if payload.Status.Rank() == 0 {
		return errors.New("status must be sent, delivered, or read")
	}

	ts := time.Now()
	if payload.Timestamp != nil {
		ts = *payload.Timestamp
	}
	update := domain.MessageStatusUpdate{
		MessageID:      payload.MessageID,
		ConversationID: payload.ConversationID,
		SenderID:       conn.PeerID,
		RecipientID:    payload.RecipientID,
		Status:         payload.Status,
		Timestamp:      ts,
	}

	if err := h.messages.SaveStatus(context.Background(), &update); err != nil {
		return err
	}

	// Relay to the counterparty when one is named; a bare update is only
	// persisted.
	if update.RecipientID != "" {
		relay, err := newOutbound(KindMessageStatusUpdate, update)
		if err != nil {
			return err
		}
		h.pushToPeer(update.RecipientID, relay)
	}
	return nil
}

// drainAndPush pulls the connection's pending signals from the mailbox and
// pushes them in creation order. Drained signals are consumed; the receiver
// dedupes by id in case the live push already landed.
func (h *Hub) drainAndPush(conn *Connection) {
	drained, err := h.mailbox.DrainPending(context.Background(), conn.PeerID, "")
	if err != nil {
		h.logger.Warnw("mailbox drain failed",
			"peer_id", conn.PeerID,
			"error", err,
		)
		return
	}
	if len(drained) == 0 {
		return
	}
	if h.metrics != nil {
		h.metrics.SignalsDrained(len(drained))
	}

	for _, signal := range drained {
		env, err := newOutbound(KindSignal, signal)
		if err != nil {
			continue
		}
		_ = conn.Send(env)
	}
}

// BroadcastToPeer sends the envelope to every live connection owned by the
// peer and returns how many sends were attempted. No-op when the peer has
// none; failed sends are dropped.
func (h *Hub) BroadcastToPeer(peerID domain.PeerID, env *Envelope) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections[peerID]))
	for _, conn := range h.connections[peerID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Send(env)
	}
	return len(conns)
}

// BroadcastAll sends the envelope to every live connection, optionally
// excluding one. Iterates a snapshot so mid-broadcast closes are tolerated.
func (h *Hub) BroadcastAll(env *Envelope, exclude *Connection) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, peerConns := range h.connections {
		for _, conn := range peerConns {
			if exclude != nil && conn.ID == exclude.ID {
				continue
			}
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Send(env)
	}
}

// ConnectedPeers returns the identities with at least one live connection.
func (h *Hub) ConnectedPeers() []domain.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(h.connections))
	for peerID := range h.connections {
		peers = append(peers, peerID)
	}
	return peers
}

// IsPeerConnected reports whether the peer has at least one live connection.
func (h *Hub) IsPeerConnected(peerID domain.PeerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[peerID]) > 0
}

// ConnectionCount returns the number of live connections across all peers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// HealthCheck reports liveness plus the registry size.
func (h *Hub) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": h.ConnectionCount(),
		"peers":       len(h.ConnectedPeers()),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Hub) register(conn *Connection) {
	h.mu.Lock()
	peerConns := h.connections[conn.PeerID]
	if peerConns == nil {
		peerConns = make(map[domain.ConnectionID]*Connection)
		h.connections[conn.PeerID] = peerConns
	}
	peerConns[conn.ID] = conn
	peerCount := len(h.connections)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectionOpened()
		h.metrics.PeersOnline(peerCount)
	}
}

// unregister removes the connection and reports whether it was the peer's
// last one.
func (h *Hub) unregister(conn *Connection) bool {
	h.mu.Lock()
	last := false
	if peerConns, ok := h.connections[conn.PeerID]; ok {
		delete(peerConns, conn.ID)
		if len(peerConns) == 0 {
			delete(h.connections, conn.PeerID)
			last = true
		}
	}
	peerCount := len(h.connections)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ConnectionClosed()
		h.metrics.PeersOnline(peerCount)
	}
	return last
}

// closeConnection tears down the connection; losing the peer's last
// connection flips presence to offline and broadcasts that change. History
// is untouched, only liveness.
func (h *Hub) closeConnection(conn *Connection) {
	conn.Close(websocket.CloseNormalClosure, "closed")

	last := h.unregister(conn)
	if last {
		record := h.presence.Set(conn.PeerID, domain.PresenceOffline)
		update, err := newOutbound(KindPresenceUpdate, record)
		if err == nil {
			h.broadcastEverywhere(update, nil)
		}
		if h.relay != nil {
			_ = h.relay.PeerDisconnected(context.Background(), conn.PeerID)
		}
	}

	h.logger.Infow("peer disconnected",
		"peer_id", conn.PeerID,
		"connection_id", conn.ID,
		"last_connection", last,
	)
}
