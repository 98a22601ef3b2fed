package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConversationID_OrderIndependent(t *testing.T) {
	a := PeerID("alice")
	b := PeerID("bob")

	assert.Equal(t, NewConversationID(a, b), NewConversationID(b, a))
	assert.Equal(t, ConversationID("alice#bob"), NewConversationID(b, a))
}

func TestInitiatorAndPolite(t *testing.T) {
	alice := PeerID("alice")
	bob := PeerID("bob")

	assert.True(t, Initiator(alice, bob))
	assert.False(t, Initiator(bob, alice))

	assert.True(t, Polite(bob, alice))
	assert.False(t, Polite(alice, bob))

	// Exactly one side initiates for any pair.
	assert.NotEqual(t, Initiator(alice, bob), Initiator(bob, alice))
}

func TestNewSessionID_FreshPerAttempt(t *testing.T) {
	conversation := NewConversationID("alice", "bob")

	first := NewSessionID(conversation, time.UnixMilli(1000))
	second := NewSessionID(conversation, time.UnixMilli(2000))

	assert.NotEqual(t, first, second)
}

func TestValidSignalType(t *testing.T) {
	for _, valid := range []SignalType{SignalOffer, SignalAnswer, SignalCandidate, SignalBye} {
		assert.True(t, ValidSignalType(valid), string(valid))
	}
	assert.False(t, ValidSignalType("renegotiate"))
	assert.False(t, ValidSignalType(""))
}

func TestSignalType_RequiresPayload(t *testing.T) {
	assert.True(t, SignalOffer.RequiresPayload())
	assert.True(t, SignalAnswer.RequiresPayload())
	assert.True(t, SignalCandidate.RequiresPayload())
	assert.False(t, SignalBye.RequiresPayload())
}

func TestMessageStatus_Rank(t *testing.T) {
	assert.Less(t, StatusSent.Rank(), StatusDelivered.Rank())
	assert.Less(t, StatusDelivered.Rank(), StatusRead.Rank())

	// Unknown statuses can never win an escalation.
	assert.Less(t, MessageStatus("archived").Rank(), StatusSent.Rank())
}

func TestValidPresenceStatus(t *testing.T) {
	assert.True(t, ValidPresenceStatus(PresenceOnline))
	assert.True(t, ValidPresenceStatus(PresenceAway))
	assert.True(t, ValidPresenceStatus(PresenceOffline))
	assert.False(t, ValidPresenceStatus("busy"))
}
