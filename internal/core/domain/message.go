package domain

import "time"

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses for monotonic escalation: sent < delivered < read.
// Unknown statuses rank below sent so they can never regress a record.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// ChatMessage is the application payload carried over the direct channel or
// the hub relay. Persistence belongs to the external message store.
type ChatMessage struct {
	ID             MessageID      `json:"id"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       PeerID         `json:"senderId"`
	RecipientID    PeerID         `json:"recipientId"`
	Content        string         `json:"content"`
	ReplyTo        MessageID      `json:"replyTo,omitempty"`
	SentAt         time.Time      `json:"sentAt"`
}

// MessageStatusUpdate reports a delivery-state transition for one message.
// Status only escalates forward; reapplying a lower status is absorbed.
type MessageStatusUpdate struct {
	MessageID      MessageID      `json:"messageId"`
	ConversationID ConversationID `json:"conversationId"`
	SenderID       PeerID         `json:"senderId"`
	RecipientID    PeerID         `json:"recipientId"`
	Status         MessageStatus  `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
}

type TypingState string

const (
	TypingStart TypingState = "start"
	TypingStop  TypingState = "stop"
)

// TypingEvent is transient: at-most-once delivery, never persisted. Receivers
// self-correct with an auto-clear timeout when a stop is lost.
type TypingEvent struct {
	SenderID       PeerID         `json:"senderId"`
	RecipientID    PeerID         `json:"recipientId"`
	ConversationID ConversationID `json:"conversationId,omitempty"`
	State          TypingState    `json:"state"`
	Timestamp      time.Time      `json:"timestamp"`
}
