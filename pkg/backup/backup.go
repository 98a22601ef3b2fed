package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// Snapshot is one serialized backup. Payload stays opaque JSON so the
// package does not depend on what is being backed up.
type Snapshot struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   json.RawMessage        `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Storage persists named snapshots.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

const namePrefix = "snapshot-"
const nameTimeLayout = "20060102-150405"

// Service writes and reads timestamped snapshots on a Storage backend.
type Service struct {
	storage Storage
	version string
}

func NewService(storage Storage, version string) *Service {
	return &Service{storage: storage, version: version}
}

// Create serializes payload into a new timestamped snapshot and returns its
// name.
func (s *Service) Create(ctx context.Context, payload interface{}, metadata map[string]interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot payload: %w", err)
	}

	snapshot := Snapshot{
		Version:   s.version,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
		Metadata:  metadata,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("%s%s.json", namePrefix, snapshot.Timestamp.Format(nameTimeLayout))
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return name, nil
}

// Restore loads the named snapshot and unmarshals its payload into dst.
func (s *Service) Restore(ctx context.Context, name string, dst interface{}) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if dst != nil {
		if err := json.Unmarshal(snapshot.Payload, dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
		}
	}
	return &snapshot, nil
}

// List returns snapshot names sorted ascending; the timestamped naming makes
// that chronological order.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the most recent snapshot name, or "" when none exist.
func (s *Service) Latest(ctx context.Context) (string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[len(names)-1], nil
}

// Delete removes one snapshot.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// SnapshotTime parses the creation time out of a snapshot name.
func SnapshotTime(name string) (time.Time, error) {
	if len(name) < len(namePrefix)+len(nameTimeLayout) {
		return time.Time{}, fmt.Errorf("malformed snapshot name %q", name)
	}
	stamp := name[len(namePrefix) : len(namePrefix)+len(nameTimeLayout)]
	return time.Parse(nameTimeLayout, stamp)
}
