package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/errors"

	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NegotiationState is the externally visible state of one conversation's
// session negotiation.
type NegotiationState string

const (
	StateIdle           NegotiationState = "idle"
	StateFetchingConfig NegotiationState = "fetching-config"
	StateWaiting        NegotiationState = "waiting"
	StateNegotiating    NegotiationState = "negotiating"
	StateConnected      NegotiationState = "connected"
	StateDisconnected   NegotiationState = "disconnected"
	StateError          NegotiationState = "error"
)

// restartDelay paces initiator-side renegotiation after a dropped session.
const restartDelay = 2 * time.Second

const dataChannelLabel = "chat"

// Signaler delivers one negotiation signal to the remote peer, live when the
// hub connection is up and via the mailbox otherwise.
type Signaler interface {
	SendSignal(ctx context.Context, signal *domain.Signal) error
}

// Negotiator is the per-conversation state machine. Both participants run
// one independently; roles fall out of the peer ids (the lexicographically
// smaller identity initiates, the larger one is polite and yields on glare),
// so no extra role negotiation round trip is needed.
//
// All triggers, inbound signals, channel traffic, timer expiries, and caller
// requests, are serialized behind one mutex.
type Negotiator struct {
	localID      domain.PeerID
	remoteID     domain.PeerID
	conversation domain.ConversationID
	signaler     Signaler
	ice          ports.ICEConfigProvider
	handlers     ChannelHandlers
	onState      func(NegotiationState)
	clock        Clock
	logger       *zap.SugaredLogger

	mu           sync.Mutex
	enabled      bool
	state        NegotiationState
	lastErr      error
	sessionID    domain.SessionID
	makingOffer  bool
	pc           *webrtc.PeerConnection
	channel      *webrtc.DataChannel
	channelOpen  bool
	restartTimer Timer
	dedupe       *signalDedupe
}

// NegotiatorOption customizes construction.
type NegotiatorOption func(*Negotiator)

// WithClock injects a virtual clock for tests.
func WithClock(clock Clock) NegotiatorOption {
	return func(n *Negotiator) { n.clock = clock }
}

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn func(NegotiationState)) NegotiatorOption {
	return func(n *Negotiator) { n.onState = fn }
}

func NewNegotiator(
	localID, remoteID domain.PeerID,
	signaler Signaler,
	ice ports.ICEConfigProvider,
	handlers ChannelHandlers,
	logger *zap.SugaredLogger,
	opts ...NegotiatorOption,
) *Negotiator {
	n := &Negotiator{
		localID:      localID,
		remoteID:     remoteID,
		conversation: domain.NewConversationID(localID, remoteID),
		signaler:     signaler,
		ice:          ice,
		handlers:     handlers,
		clock:        SystemClock(),
		state:        StateIdle,
		dedupe:       newSignalDedupe(512),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Initiator reports whether the local peer opens the channel and offers
// first for this conversation.
func (n *Negotiator) Initiator() bool { return domain.Initiator(n.localID, n.remoteID) }

// Polite reports whether the local peer yields on glare.
func (n *Negotiator) Polite() bool { return domain.Polite(n.localID, n.remoteID) }

// Conversation returns the order-independent conversation id.
func (n *Negotiator) Conversation() domain.ConversationID { return n.conversation }

// State returns the current negotiation state and last local error.
func (n *Negotiator) State() (NegotiationState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state, n.lastErr
}

// Start enables the conversation. The initiator immediately begins a
// negotiation attempt; the polite side waits for the remote offer.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.enabled {
		n.mu.Unlock()
		return nil
	}
	n.enabled = true
	n.mu.Unlock()

	if !n.Initiator() {
		n.setState(StateWaiting)
		return nil
	}
	return n.beginAttempt(ctx)
}

// beginAttempt runs one initiator-side negotiation: fresh session id, fresh
// peer connection, local data channel, offer out through the signaler.
func (n *Negotiator) beginAttempt(ctx context.Context) error {
	n.setState(StateFetchingConfig)

	cfg, err := n.ice.Config(ctx, n.localID)
	if err != nil {
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to fetch ICE configuration", err)
	}

	n.mu.Lock()
	if !n.enabled {
		n.mu.Unlock()
		return nil
	}
	n.teardownLocked()
	session := domain.NewSessionID(n.conversation, n.clock.Now())
	n.sessionID = session

	pc, err := n.newPeerConnectionLocked(cfg, session)
	if err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to create peer connection", err)
	}

	channel, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to create data channel", err)
	}
	n.adoptChannelLocked(channel, session)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to apply local offer", err)
	}
	n.makingOffer = true
	n.mu.Unlock()

	n.setState(StateWaiting)
	return n.sendDescription(ctx, session, domain.SignalOffer, offer)
}

// HandleSignal applies one inbound negotiation signal. Signals arrive at
// least once across the push and drain paths; duplicates are dropped here.
func (n *Negotiator) HandleSignal(ctx context.Context, signal *domain.Signal) error {
	if signal.SenderID != n.remoteID {
		return nil
	}
	if n.dedupe.Observe(string(signal.ID)) {
		n.logger.Debugw("dropping duplicate signal",
			"signal_id", signal.ID,
			"signal_type", signal.Type,
		)
		return nil
	}

	switch signal.Type {
	case domain.SignalOffer:
		return n.handleOffer(ctx, signal)
	case domain.SignalAnswer:
		return n.handleAnswer(signal)
	case domain.SignalCandidate:
		return n.handleCandidate(signal)
	case domain.SignalBye:
		n.handleBye(signal.SessionID)
		return nil
	}
	return errors.NewValidationError("unknown signal type " + string(signal.Type))
}

// handleOffer adopts the remote session and answers it. On glare the polite
// peer rolls its own in-flight offer back and accepts the remote one; the
// impolite peer ignores the remote offer and keeps its own.
func (n *Negotiator) handleOffer(ctx context.Context, signal *domain.Signal) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(signal.Payload, &offer); err != nil {
		return errors.NewNegotiationFailureError("invalid offer payload", err)
	}

	n.mu.Lock()
	if !n.enabled {
		n.mu.Unlock()
		return nil
	}
	if signal.SessionID == n.sessionID {
		// Re-offer for the session we already track, nothing to adopt.
		n.mu.Unlock()
		return nil
	}

	collision := n.makingOffer
	if collision && !domain.Polite(n.localID, n.remoteID) {
		n.mu.Unlock()
		n.logger.Infow("glare: ignoring remote offer",
			"conversation_id", n.conversation,
			"remote_session_id", signal.SessionID,
		)
		return nil
	}
	if collision {
		n.logger.Infow("glare: rolling back local offer",
			"conversation_id", n.conversation,
			"local_session_id", n.sessionID,
			"remote_session_id", signal.SessionID,
		)
	}
	n.teardownLocked()
	n.makingOffer = false
	n.sessionID = signal.SessionID
	n.mu.Unlock()

	n.setState(StateFetchingConfig)
	cfg, err := n.ice.Config(ctx, n.localID)
	if err != nil {
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to fetch ICE configuration", err)
	}

	n.mu.Lock()
	if !n.enabled || n.sessionID != signal.SessionID {
		n.mu.Unlock()
		return nil
	}
	pc, err := n.newPeerConnectionLocked(cfg, signal.SessionID)
	if err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to create peer connection", err)
	}

	session := signal.SessionID
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		n.mu.Lock()
		if n.sessionID == session {
			n.adoptChannelLocked(dc, session)
		}
		n.mu.Unlock()
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to apply remote offer", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		n.mu.Unlock()
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to apply local answer", err)
	}
	n.mu.Unlock()

	n.setState(StateNegotiating)
	return n.sendDescription(ctx, session, domain.SignalAnswer, answer)
}

func (n *Negotiator) handleAnswer(signal *domain.Signal) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(signal.Payload, &answer); err != nil {
		return errors.NewNegotiationFailureError("invalid answer payload", err)
	}

	n.mu.Lock()
	if signal.SessionID != n.sessionID || n.pc == nil || !n.makingOffer {
		n.mu.Unlock()
		n.logger.Debugw("dropping answer for unknown session",
			"session_id", signal.SessionID,
		)
		return nil
	}
	pc := n.pc
	n.makingOffer = false
	n.mu.Unlock()

	if err := pc.SetRemoteDescription(answer); err != nil {
		n.fail(err)
		return errors.NewNegotiationFailureError("failed to apply remote answer", err)
	}
	n.setState(StateNegotiating)
	return nil
}

// handleCandidate applies a trickled candidate. Candidates for a session
// that has no local state yet cannot be applied and are dropped; the remote
// side's at-least-once delivery brings no remedy for that ordering, a fresh
// attempt does.
func (n *Negotiator) handleCandidate(signal *domain.Signal) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(signal.Payload, &candidate); err != nil {
		return errors.NewNegotiationFailureError("invalid candidate payload", err)
	}

	n.mu.Lock()
	if signal.SessionID != n.sessionID || n.pc == nil {
		n.mu.Unlock()
		n.logger.Debugw("dropping candidate for untracked session",
			"session_id", signal.SessionID,
		)
		return nil
	}
	pc := n.pc
	n.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		return errors.NewNegotiationFailureError("failed to apply candidate", err)
	}
	return nil
}

// handleBye unconditionally resets local state for the named session.
func (n *Negotiator) handleBye(session domain.SessionID) {
	n.mu.Lock()
	if session != n.sessionID {
		n.mu.Unlock()
		return
	}
	n.teardownLocked()
	n.sessionID = ""
	enabled := n.enabled
	n.mu.Unlock()

	if enabled {
		n.setState(StateDisconnected)
		n.scheduleRestart()
	}
}

// Close disables the conversation: best-effort bye, cancelled timers, local
// resources released. The remote side never acknowledges the bye.
func (n *Negotiator) Close(ctx context.Context) {
	n.mu.Lock()
	n.enabled = false
	session := n.sessionID
	hadSession := n.pc != nil
	if n.restartTimer != nil {
		n.restartTimer.Stop()
		n.restartTimer = nil
	}
	n.mu.Unlock()

	if hadSession && session != "" {
		err := n.signaler.SendSignal(ctx, &domain.Signal{
			SessionID:   session,
			SenderID:    n.localID,
			RecipientID: n.remoteID,
			Type:        domain.SignalBye,
		})
		if err != nil {
			n.logger.Warnw("failed to send bye",
				"conversation_id", n.conversation,
				"error", err,
			)
		}
	}

	n.mu.Lock()
	n.teardownLocked()
	n.sessionID = ""
	n.mu.Unlock()
	n.setState(StateIdle)
}

// SendMessage ships a chat payload over the direct channel. Callers get
// DeliveryUnavailable when the channel is not open and must fall back to the
// hub relay or the persistent store.
func (n *Negotiator) SendMessage(msg *domain.ChatMessage) error {
	return n.sendChannelFrame(ChannelKindMessage, msg)
}

// SendTyping ships a transient typing event over the direct channel.
func (n *Negotiator) SendTyping(event domain.TypingEvent) error {
	return n.sendChannelFrame(ChannelKindTyping, event)
}

// SendStatus ships a delivery update over the direct channel.
func (n *Negotiator) SendStatus(update domain.MessageStatusUpdate) error {
	return n.sendChannelFrame(ChannelKindStatus, update)
}

func (n *Negotiator) sendChannelFrame(kind string, payload interface{}) error {
	n.mu.Lock()
	channel := n.channel
	open := n.channelOpen
	n.mu.Unlock()
	if channel == nil || !open {
		return errors.NewDeliveryUnavailableError("direct channel is not open")
	}

	raw, err := encodeChannelFrame(kind, payload)
	if err != nil {
		return err
	}
	return channel.Send(raw)
}

// ChannelOpen reports whether the direct channel is usable.
func (n *Negotiator) ChannelOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.channelOpen
}

// newPeerConnectionLocked builds the pion connection for one session and
// wires trickle candidates and connection-state observation. Callbacks check
// the session they were created for so a replaced connection cannot mutate
// the successor's state.
func (n *Negotiator) newPeerConnectionLocked(cfg *ports.ICEConfig, session domain.SessionID) (*webrtc.PeerConnection, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		payload, err := json.Marshal(init)
		if err != nil {
			return
		}
		sendErr := n.signaler.SendSignal(context.Background(), &domain.Signal{
			SessionID:   session,
			SenderID:    n.localID,
			RecipientID: n.remoteID,
			Type:        domain.SignalCandidate,
			Payload:     payload,
		})
		if sendErr != nil {
			n.logger.Warnw("failed to send candidate",
				"session_id", session,
				"error", sendErr,
			)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		n.mu.Lock()
		current := n.sessionID == session
		n.mu.Unlock()
		if !current {
			return
		}

		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			n.setState(StateConnected)
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			n.mu.Lock()
			n.channelOpen = false
			enabled := n.enabled
			n.mu.Unlock()
			if enabled {
				n.setState(StateDisconnected)
				n.scheduleRestart()
			}
		}
	})

	n.pc = pc
	return pc, nil
}

func (n *Negotiator) adoptChannelLocked(dc *webrtc.DataChannel, session domain.SessionID) {
	n.channel = dc
	n.channelOpen = false

	dc.OnOpen(func() {
		n.mu.Lock()
		if n.sessionID == session {
			n.channelOpen = true
		}
		n.mu.Unlock()
	})
	dc.OnClose(func() {
		n.mu.Lock()
		if n.sessionID == session {
			n.channelOpen = false
		}
		n.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := decodeChannelFrame(msg.Data, n.handlers); err != nil {
			n.logger.Warnw("dropping channel frame",
				"conversation_id", n.conversation,
				"error", err,
			)
		}
	})
}

// scheduleRestart arms the initiator's renegotiation timer. The polite side
// never restarts on its own; it waits for the next remote offer.
func (n *Negotiator) scheduleRestart() {
	if !n.Initiator() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enabled || n.restartTimer != nil {
		return
	}
	n.restartTimer = n.clock.AfterFunc(restartDelay, func() {
		n.mu.Lock()
		n.restartTimer = nil
		idle := n.enabled && !n.channelOpen && !n.makingOffer
		n.mu.Unlock()
		if idle {
			_ = n.beginAttempt(context.Background())
		}
	})
}

func (n *Negotiator) sendDescription(ctx context.Context, session domain.SessionID, kind domain.SignalType, desc webrtc.SessionDescription) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return n.signaler.SendSignal(ctx, &domain.Signal{
		SessionID:   session,
		SenderID:    n.localID,
		RecipientID: n.remoteID,
		Type:        kind,
		Payload:     payload,
	})
}

func (n *Negotiator) teardownLocked() {
	if n.channel != nil {
		_ = n.channel.Close()
		n.channel = nil
	}
	if n.pc != nil {
		_ = n.pc.Close()
		n.pc = nil
	}
	n.channelOpen = false
	n.makingOffer = false
}

func (n *Negotiator) setState(state NegotiationState) {
	n.mu.Lock()
	if n.state == state {
		n.mu.Unlock()
		return
	}
	n.state = state
	if state != StateError {
		n.lastErr = nil
	}
	n.mu.Unlock()

	if n.onState != nil {
		n.onState(state)
	}
}

// fail records a local negotiation error. Failures are scoped to this
// conversation; a fresh attempt recovers.
func (n *Negotiator) fail(err error) {
	n.mu.Lock()
	n.state = StateError
	n.lastErr = err
	n.mu.Unlock()

	n.logger.Errorw("negotiation failed",
		"conversation_id", n.conversation,
		"error", err,
	)
	if n.onState != nil {
		n.onState(StateError)
	}
}
