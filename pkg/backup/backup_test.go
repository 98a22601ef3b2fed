package backup

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixturePayload struct {
	Signals []string `json:"signals"`
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewService(storage, "1")
}

func TestService_CreateRestoreRoundtrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	payload := fixturePayload{Signals: []string{"sig-1", "sig-2"}}
	name, err := svc.Create(ctx, payload, map[string]interface{}{"signalCount": 2})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "snapshot-"))
	assert.True(t, strings.HasSuffix(name, ".json"))

	var restored fixturePayload
	snap, err := svc.Restore(ctx, name, &restored)
	require.NoError(t, err)
	assert.Equal(t, "1", snap.Version)
	assert.Equal(t, payload.Signals, restored.Signals)
	assert.EqualValues(t, 2, snap.Metadata["signalCount"])
	assert.WithinDuration(t, time.Now().UTC(), snap.Timestamp, time.Minute)
}

func TestService_RestoreNilDstSkipsPayload(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	name, err := svc.Create(ctx, fixturePayload{Signals: []string{"sig-1"}}, nil)
	require.NoError(t, err)

	snap, err := svc.Restore(ctx, name, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Payload)
}

func TestService_RestoreMissingSnapshot(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Restore(context.Background(), "snapshot-19990101-000000.json", nil)
	assert.Error(t, err)
}

func TestService_ListSortedAndLatest(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)
	svc := NewService(storage, "1")
	ctx := context.Background()

	// Write out of order; List must come back chronological.
	for _, name := range []string{
		"snapshot-20260201-120000.json",
		"snapshot-20260101-120000.json",
		"snapshot-20260115-120000.json",
	} {
		require.NoError(t, storage.Save(ctx, name, strings.NewReader(`{"version":"1"}`)))
	}

	names, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snapshot-20260101-120000.json",
		"snapshot-20260115-120000.json",
		"snapshot-20260201-120000.json",
	}, names)

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-20260201-120000.json", latest)
}

func TestService_LatestEmpty(t *testing.T) {
	svc := newTestService(t)

	latest, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestService_Delete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	name, err := svc.Create(ctx, fixturePayload{}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, name))

	names, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSnapshotTime(t *testing.T) {
	ts, err := SnapshotTime("snapshot-20260115-083045.json")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 8, 30, 45, 0, time.UTC), ts)

	_, err = SnapshotTime("snapshot-bad")
	assert.Error(t, err)
}

func TestFileStorage_ListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, "snapshot-20260101-000000.json", strings.NewReader("{}")))
	require.NoError(t, storage.Save(ctx, "notes.txt", strings.NewReader("unrelated")))

	names, err := storage.List(ctx, "snapshot-")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshot-20260101-000000.json"}, names)
}
