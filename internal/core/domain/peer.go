package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type PeerID string
type ConversationID string
type SessionID string
type ConnectionID string
type MessageID string

// NewConversationID derives the order-independent identifier for a peer pair.
// Both participants compute the same value regardless of argument order.
func NewConversationID(a, b PeerID) ConversationID {
	parts := []string{string(a), string(b)}
	sort.Strings(parts)
	return ConversationID(strings.Join(parts, "#"))
}

// NewSessionID scopes one negotiation attempt. A fresh attempt between the
// same pair gets a fresh SessionID.
func NewSessionID(conversation ConversationID, now time.Time) SessionID {
	return SessionID(string(conversation) + "-" + strconv.FormatInt(now.UnixMilli(), 10))
}

// Initiator reports whether local opens the data channel and sends the first
// offer for a conversation with remote. The lexicographically smaller identity
// initiates; the larger one is polite and yields on glare.
func Initiator(local, remote PeerID) bool {
	return string(local) < string(remote)
}

// Polite is the complement of Initiator: the polite peer rolls back its own
// in-flight offer when it collides with the remote one.
func Polite(local, remote PeerID) bool {
	return !Initiator(local, remote)
}
