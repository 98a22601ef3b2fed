package domain

import (
	"encoding/json"
	"time"
)

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
	SignalBye       SignalType = "bye"
)

// ValidSignalType reports whether t is one of the four negotiation steps.
func ValidSignalType(t SignalType) bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalBye:
		return true
	}
	return false
}

// Signal is one step of session negotiation addressed to a specific recipient
// within a session. It is append-only until consumed; consumption happens
// exactly once and re-consumption is a no-op.
type Signal struct {
	ID          string          `json:"id"`
	SessionID   SessionID       `json:"sessionId"`
	SenderID    PeerID          `json:"senderId"`
	RecipientID PeerID          `json:"recipientId"`
	Type        SignalType      `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Consumed    bool            `json:"consumed"`
	ConsumedAt  *time.Time      `json:"consumedAt,omitempty"`
}

// RequiresPayload reports whether the signal type must carry a non-null
// payload. Only bye travels empty.
func (t SignalType) RequiresPayload() bool {
	return t != SignalBye
}
