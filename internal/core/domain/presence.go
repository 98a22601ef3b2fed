package domain

import "time"

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// ValidPresenceStatus reports whether s is a recognized presence value.
func ValidPresenceStatus(s PresenceStatus) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// PresenceRecord tracks one peer's liveness. Absence of a record means
// implicit offline. Offline is terminal on full disconnect; online and away
// may oscillate freely while at least one connection is live.
type PresenceRecord struct {
	PeerID    PeerID         `json:"peerId"`
	Status    PresenceStatus `json:"status"`
	UpdatedAt time.Time      `json:"timestamp"`
}
