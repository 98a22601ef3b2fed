package peer

import (
	"testing"
	"time"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestTypingSender_DebouncesKeystrokes(t *testing.T) {
	clock := newFakeClock()
	var sent []domain.TypingState
	sender := NewTypingSender(clock, func(state domain.TypingState) {
		sent = append(sent, state)
	})

	sender.Keystroke()
	sender.Keystroke()
	sender.Keystroke()

	// One start for the burst, no stop while activity continues.
	assert.Equal(t, []domain.TypingState{domain.TypingStart}, sent)

	clock.Advance(typingStopDelay)
	assert.Equal(t, []domain.TypingState{domain.TypingStart, domain.TypingStop}, sent)
}

func TestTypingSender_KeystrokeExtendsIdleWindow(t *testing.T) {
	clock := newFakeClock()
	var sent []domain.TypingState
	sender := NewTypingSender(clock, func(state domain.TypingState) {
		sent = append(sent, state)
	})

	sender.Keystroke()
	clock.Advance(typingStopDelay - time.Millisecond)
	sender.Keystroke()
	clock.Advance(typingStopDelay - time.Millisecond)

	// Still typing: the second keystroke pushed the stop out.
	assert.Equal(t, []domain.TypingState{domain.TypingStart}, sent)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []domain.TypingState{domain.TypingStart, domain.TypingStop}, sent)
}

func TestTypingSender_FlushEmitsStopOnce(t *testing.T) {
	clock := newFakeClock()
	var sent []domain.TypingState
	sender := NewTypingSender(clock, func(state domain.TypingState) {
		sent = append(sent, state)
	})

	sender.Keystroke()
	sender.Flush()
	sender.Flush()

	assert.Equal(t, []domain.TypingState{domain.TypingStart, domain.TypingStop}, sent)

	// The cancelled debounce timer stays quiet.
	clock.Advance(typingStopDelay)
	assert.Len(t, sent, 2)
}

func TestTypingSender_CancelEmitsNothing(t *testing.T) {
	clock := newFakeClock()
	var sent []domain.TypingState
	sender := NewTypingSender(clock, func(state domain.TypingState) {
		sent = append(sent, state)
	})

	sender.Keystroke()
	sender.Cancel()
	clock.Advance(typingStopDelay)

	assert.Equal(t, []domain.TypingState{domain.TypingStart}, sent)
}

func TestTypingIndicator_StartAndStop(t *testing.T) {
	clock := newFakeClock()
	var changes []bool
	indicator := NewTypingIndicator(clock, func(peer domain.PeerID, typing bool) {
		changes = append(changes, typing)
	})

	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStart})
	assert.True(t, indicator.Typing("alice"))

	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStop})
	assert.False(t, indicator.Typing("alice"))

	assert.Equal(t, []bool{true, false}, changes)
}

func TestTypingIndicator_AutoClearsOnLostStop(t *testing.T) {
	clock := newFakeClock()
	var changes []bool
	indicator := NewTypingIndicator(clock, func(peer domain.PeerID, typing bool) {
		changes = append(changes, typing)
	})

	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStart})
	assert.True(t, indicator.Typing("alice"))

	clock.Advance(typingClearDelay)
	assert.False(t, indicator.Typing("alice"))
	assert.Equal(t, []bool{true, false}, changes)
}

func TestTypingIndicator_RepeatedStartExtendsClear(t *testing.T) {
	clock := newFakeClock()
	indicator := NewTypingIndicator(clock, func(domain.PeerID, bool) {})

	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStart})
	clock.Advance(typingClearDelay - time.Second)
	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStart})
	clock.Advance(typingClearDelay - time.Second)

	assert.True(t, indicator.Typing("alice"))

	clock.Advance(time.Second)
	assert.False(t, indicator.Typing("alice"))
}

func TestTypingIndicator_TracksPeersIndependently(t *testing.T) {
	clock := newFakeClock()
	indicator := NewTypingIndicator(clock, func(domain.PeerID, bool) {})

	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStart})
	indicator.Observe(domain.TypingEvent{SenderID: "bob", State: domain.TypingStart})
	indicator.Observe(domain.TypingEvent{SenderID: "alice", State: domain.TypingStop})

	assert.False(t, indicator.Typing("alice"))
	assert.True(t, indicator.Typing("bob"))
}
