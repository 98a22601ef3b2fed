package peer

import (
	"testing"
	"time"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelFrame_MessageRoundTrip(t *testing.T) {
	msg := domain.ChatMessage{
		ID:             "m1",
		ConversationID: domain.NewConversationID("alice", "bob"),
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "direct",
		SentAt:         time.Unix(1700000000, 0).UTC(),
	}

	raw, err := encodeChannelFrame(ChannelKindMessage, msg)
	require.NoError(t, err)

	var got domain.ChatMessage
	err = decodeChannelFrame(raw, ChannelHandlers{
		OnMessage: func(m domain.ChatMessage) { got = m },
	})
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestChannelFrame_TypingAndStatus(t *testing.T) {
	var typing *domain.TypingEvent
	var status *domain.MessageStatusUpdate
	handlers := ChannelHandlers{
		OnTyping: func(e domain.TypingEvent) { typing = &e },
		OnStatus: func(u domain.MessageStatusUpdate) { status = &u },
	}

	raw, err := encodeChannelFrame(ChannelKindTyping, domain.TypingEvent{
		SenderID: "alice", RecipientID: "bob", State: domain.TypingStart,
	})
	require.NoError(t, err)
	require.NoError(t, decodeChannelFrame(raw, handlers))
	require.NotNil(t, typing)
	assert.Equal(t, domain.TypingStart, typing.State)

	raw, err = encodeChannelFrame(ChannelKindStatus, domain.MessageStatusUpdate{
		MessageID: "m1", Status: domain.StatusRead,
	})
	require.NoError(t, err)
	require.NoError(t, decodeChannelFrame(raw, handlers))
	require.NotNil(t, status)
	assert.Equal(t, domain.StatusRead, status.Status)
}

func TestChannelFrame_RejectsUnknownKind(t *testing.T) {
	err := decodeChannelFrame([]byte(`{"kind":"media","payload":{}}`), ChannelHandlers{})
	assert.Error(t, err)
}

func TestChannelFrame_RejectsMalformed(t *testing.T) {
	err := decodeChannelFrame([]byte(`not json`), ChannelHandlers{})
	assert.Error(t, err)

	err = decodeChannelFrame([]byte(`{"kind":"message","payload":"not an object"}`), ChannelHandlers{})
	assert.Error(t, err)
}
