package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"pairlink/internal/core/domain"
)

// Inbound envelope kinds. Anything else is rejected at the boundary with an
// error envelope; the connection stays open.
const (
	KindHello         = "hello"
	KindSignal        = "signal"
	KindTyping        = "typing"
	KindPresence      = "presence"
	KindMessage       = "message"
	KindMessageStatus = "messageStatus"
	KindPing          = "ping"
)

// Outbound envelope kinds.
const (
	KindHelloAck            = "hello:ack"
	KindPresenceSync        = "presence:sync"
	KindPresenceUpdate      = "presence:update"
	KindSignalAck           = "signal:ack"
	KindMessageNew          = "message:new"
	KindMessageStatusUpdate = "message:status-update"
	KindPong                = "pong"
	KindError               = "error"
)

// Envelope is one JSON frame on the control channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Ts      int64           `json:"ts,omitempty"`
}

type HelloPayload struct {
	PeerID domain.PeerID `json:"peerId"`
}

type SignalPayload struct {
	SessionID   domain.SessionID  `json:"sessionId"`
	SenderID    domain.PeerID     `json:"senderId"`
	RecipientID domain.PeerID     `json:"recipientId"`
	SignalType  domain.SignalType `json:"signalType"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

type TypingPayload struct {
	RecipientID    domain.PeerID         `json:"recipientId"`
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
	State          domain.TypingState    `json:"state"`
	Timestamp      *time.Time            `json:"timestamp,omitempty"`
}

type PresencePayload struct {
	Status domain.PresenceStatus `json:"status"`
}

type MessageStatusPayload struct {
	MessageID      domain.MessageID      `json:"messageId"`
	ConversationID domain.ConversationID `json:"conversationId,omitempty"`
	RecipientID    domain.PeerID         `json:"recipientId,omitempty"`
	Status         domain.MessageStatus  `json:"status"`
	Timestamp      *time.Time            `json:"timestamp,omitempty"`
}

// ParseEnvelope decodes one raw frame. Unknown kinds and frames that do not
// parse come back as domain errors so the dispatcher can answer with an error
// envelope instead of closing the connection.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", domain.ErrMalformedEnvelope)
	}

	switch env.Type {
	case KindHello, KindSignal, KindTyping, KindPresence,
		KindMessage, KindMessageStatus, KindPing:
		return &env, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEnvelopeKind, env.Type)
}

func decodePayload(env *Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", domain.ErrMalformedEnvelope, env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", domain.ErrMalformedEnvelope, env.Type, err)
	}
	return nil
}

func newOutbound(kind string, payload interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
		}
		raw = data
	}
	return &Envelope{Type: kind, Payload: raw}, nil
}

func errorEnvelope(message string) *Envelope {
	return &Envelope{Type: KindError, Error: message}
}

func pongEnvelope(now time.Time) *Envelope {
	return &Envelope{Type: KindPong, Ts: now.UnixMilli()}
}
