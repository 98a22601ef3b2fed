package services

import (
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
)

// presenceService tracks peer liveness in memory. Records are keyed by peer
// identity, not by connection, so multi-device peers collapse into one entry.
// Absence of a record reads as implicit offline.
type presenceService struct {
	mu      sync.RWMutex
	records map[domain.PeerID]domain.PresenceRecord
}

func NewPresenceService() ports.PresenceService {
	return &presenceService{
		records: make(map[domain.PeerID]domain.PresenceRecord),
	}
}

func (s *presenceService) Set(peer domain.PeerID, status domain.PresenceStatus) domain.PresenceRecord {
	record := domain.PresenceRecord{
		PeerID:    peer,
		Status:    status,
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	s.records[peer] = record
	s.mu.Unlock()

	return record
}

func (s *presenceService) Get(peer domain.PeerID) domain.PresenceRecord {
	s.mu.RLock()
	record, ok := s.records[peer]
	s.mu.RUnlock()

	if !ok {
		return domain.PresenceRecord{
			PeerID: peer,
			Status: domain.PresenceOffline,
		}
	}
	return record
}

func (s *presenceService) Snapshot() []domain.PresenceRecord {
	s.mu.RLock()
	out := make([]domain.PresenceRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PeerID < out[j].PeerID
	})
	return out
}
