package backup

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/repositories/memory"
	snapshot "pairlink/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubLocker struct {
	acquired bool
	acquires int
	releases int
}

func (l *stubLocker) TryAcquire(ctx context.Context) (bool, error) {
	l.acquires++
	return l.acquired, nil
}

func (l *stubLocker) Release(ctx context.Context) error {
	l.releases++
	return nil
}

func newSnapshotService(t *testing.T) *snapshot.Service {
	t.Helper()
	storage, err := snapshot.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return snapshot.NewService(storage, "1")
}

func seedSignal(t *testing.T, repo *memory.MemorySignalRepository, id string, recipient domain.PeerID) {
	t.Helper()
	err := repo.Create(context.Background(), &domain.Signal{
		ID:          id,
		SessionID:   "sess-1",
		SenderID:    "alice",
		RecipientID: recipient,
		Type:        domain.SignalOffer,
		Payload:     json.RawMessage(`{"sdp":"v=0"}`),
	})
	require.NoError(t, err)
}

func TestScheduler_RunOnceWritesSnapshot(t *testing.T) {
	repo := memory.NewMemorySignalRepository()
	svc := newSnapshotService(t)
	ctx := context.Background()

	seedSignal(t, repo, "sig-1", "bob")
	seedSignal(t, repo, "sig-2", "carol")

	sched := NewScheduler(repo, svc, nil, time.Minute, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, sched.RunOnce(ctx))

	name, err := svc.Latest(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, name)

	var restored []*domain.Signal
	snap, err := svc.Restore(ctx, name, &restored)
	require.NoError(t, err)
	assert.Len(t, restored, 2)
	assert.EqualValues(t, 2, snap.Metadata["signalCount"])
}

func TestScheduler_RestoreLatestRoundtrip(t *testing.T) {
	source := memory.NewMemorySignalRepository()
	svc := newSnapshotService(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	seedSignal(t, source, "sig-1", "bob")
	seedSignal(t, source, "sig-2", "bob")

	sched := NewScheduler(source, svc, nil, time.Minute, 0, logger)
	require.NoError(t, sched.RunOnce(ctx))

	// A fresh store seeds itself from the snapshot.
	fresh := memory.NewMemorySignalRepository()
	imported, err := RestoreLatest(ctx, svc, fresh, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	count, err := fresh.CountPending(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestScheduler_RestoreLatestIdempotent(t *testing.T) {
	repo := memory.NewMemorySignalRepository()
	svc := newSnapshotService(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	seedSignal(t, repo, "sig-1", "bob")
	sched := NewScheduler(repo, svc, nil, time.Minute, 0, logger)
	require.NoError(t, sched.RunOnce(ctx))

	// Restoring into the same warm store imports nothing new.
	imported, err := RestoreLatest(ctx, svc, repo, logger)
	require.NoError(t, err)
	assert.Zero(t, imported)
}

func TestScheduler_RestoreLatestEmptyStore(t *testing.T) {
	svc := newSnapshotService(t)

	imported, err := RestoreLatest(context.Background(), svc, memory.NewMemorySignalRepository(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Zero(t, imported)
}

func TestScheduler_LockedRunSkips(t *testing.T) {
	repo := memory.NewMemorySignalRepository()
	svc := newSnapshotService(t)
	ctx := context.Background()

	lock := &stubLocker{acquired: false}
	sched := NewScheduler(repo, svc, lock, time.Minute, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, sched.RunOnce(ctx))

	assert.Equal(t, 1, lock.acquires)
	assert.Zero(t, lock.releases)

	name, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestScheduler_AcquiredLockReleased(t *testing.T) {
	repo := memory.NewMemorySignalRepository()
	svc := newSnapshotService(t)

	lock := &stubLocker{acquired: true}
	sched := NewScheduler(repo, svc, lock, time.Minute, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Equal(t, 1, lock.acquires)
	assert.Equal(t, 1, lock.releases)
}

func TestScheduler_PruneRemovesExpiredSnapshots(t *testing.T) {
	dir := t.TempDir()
	storage, err := snapshot.NewFileStorage(dir)
	require.NoError(t, err)
	svc := snapshot.NewService(storage, "1")
	ctx := context.Background()

	old := "snapshot-" + time.Now().Add(-48*time.Hour).UTC().Format("20060102-150405") + ".json"
	require.NoError(t, storage.Save(ctx, old, strings.NewReader(`{"version":"1","payload":[]}`)))

	repo := memory.NewMemorySignalRepository()
	sched := NewScheduler(repo, svc, nil, time.Minute, 24*time.Hour, zaptest.NewLogger(t).Sugar())
	require.NoError(t, sched.RunOnce(ctx))

	names, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.NotEqual(t, old, names[0])
}
