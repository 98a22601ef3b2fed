package peer

import (
	"encoding/json"
	"fmt"

	"pairlink/internal/core/domain"
)

// Direct-channel envelope kinds. Once the data channel is open, chat
// payloads, typing events, and delivery updates all travel over it,
// multiplexed by this tag.
const (
	ChannelKindMessage = "message"
	ChannelKindTyping  = "typing"
	ChannelKindStatus  = "status"
)

// ChannelEnvelope is one frame on the direct data channel.
type ChannelEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func encodeChannelFrame(kind string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return json.Marshal(ChannelEnvelope{Kind: kind, Payload: data})
}

// ChannelHandlers receives decoded direct-channel traffic.
type ChannelHandlers struct {
	OnMessage func(domain.ChatMessage)
	OnTyping  func(domain.TypingEvent)
	OnStatus  func(domain.MessageStatusUpdate)
}

func decodeChannelFrame(raw []byte, handlers ChannelHandlers) error {
	var env ChannelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed channel frame: %w", err)
	}

	switch env.Kind {
	case ChannelKindMessage:
		var msg domain.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return fmt.Errorf("invalid message payload: %w", err)
		}
		if handlers.OnMessage != nil {
			handlers.OnMessage(msg)
		}

	case ChannelKindTyping:
		var event domain.TypingEvent
		if err := json.Unmarshal(env.Payload, &event); err != nil {
			return fmt.Errorf("invalid typing payload: %w", err)
		}
		if handlers.OnTyping != nil {
			handlers.OnTyping(event)
		}

	case ChannelKindStatus:
		var update domain.MessageStatusUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil {
			return fmt.Errorf("invalid status payload: %w", err)
		}
		if handlers.OnStatus != nil {
			handlers.OnStatus(update)
		}

	default:
		return fmt.Errorf("unknown channel frame kind %q", env.Kind)
	}
	return nil
}
