package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedSignal(t *testing.T, repo *MemorySignalRepository, recipient domain.PeerID, session domain.SessionID) *domain.Signal {
	t.Helper()
	signal := &domain.Signal{
		SessionID:   session,
		SenderID:    "alice",
		RecipientID: recipient,
		Type:        domain.SignalOffer,
		Payload:     json.RawMessage(`{"sdp":"v=0"}`),
	}
	require.NoError(t, repo.Create(context.Background(), signal))
	return signal
}

func TestMemorySignalRepository_CreateAssignsID(t *testing.T) {
	repo := NewMemorySignalRepository()

	signal := storedSignal(t, repo, "bob", "s1")
	assert.NotEmpty(t, signal.ID)
	assert.False(t, signal.CreatedAt.IsZero())
}

func TestMemorySignalRepository_ConsumeOrderedAndOnce(t *testing.T) {
	repo := NewMemorySignalRepository()
	ctx := context.Background()

	first := storedSignal(t, repo, "bob", "s1")
	time.Sleep(2 * time.Millisecond)
	second := storedSignal(t, repo, "bob", "s1")

	drained, err := repo.ConsumePending(ctx, "bob", "", 0)
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, first.ID, drained[0].ID)
	assert.Equal(t, second.ID, drained[1].ID)
	assert.True(t, drained[0].Consumed)
	assert.NotNil(t, drained[0].ConsumedAt)

	again, err := repo.ConsumePending(ctx, "bob", "", 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMemorySignalRepository_ConsumeHonorsLimit(t *testing.T) {
	repo := NewMemorySignalRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		storedSignal(t, repo, "bob", "s1")
	}

	page, err := repo.ConsumePending(ctx, "bob", "", 3)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	rest, err := repo.ConsumePending(ctx, "bob", "", 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestMemorySignalRepository_CountPending(t *testing.T) {
	repo := NewMemorySignalRepository()
	ctx := context.Background()

	storedSignal(t, repo, "bob", "s1")
	storedSignal(t, repo, "bob", "s1")
	storedSignal(t, repo, "carol", "s1")

	count, err := repo.CountPending(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = repo.ConsumePending(ctx, "bob", "", 0)
	require.NoError(t, err)

	count, err = repo.CountPending(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemorySignalRepository_ExportPendingSkipsConsumed(t *testing.T) {
	repo := NewMemorySignalRepository()
	ctx := context.Background()

	kept := storedSignal(t, repo, "bob", "s1")
	storedSignal(t, repo, "carol", "s1")

	_, err := repo.ConsumePending(ctx, "carol", "", 0)
	require.NoError(t, err)

	exported, err := repo.ExportPending(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, kept.ID, exported[0].ID)
}

func TestMemorySignalRepository_ImportSkipsExisting(t *testing.T) {
	repo := NewMemorySignalRepository()
	ctx := context.Background()

	existing := storedSignal(t, repo, "bob", "s1")

	snapshot := []*domain.Signal{
		existing,
		{
			ID:          "restored-1",
			SessionID:   "s1",
			SenderID:    "alice",
			RecipientID: "bob",
			Type:        domain.SignalCandidate,
			Payload:     json.RawMessage(`{"candidate":"..."}`),
			CreatedAt:   time.Now().Add(-time.Minute),
		},
		{ID: ""},
	}

	imported, err := repo.Import(ctx, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	count, err := repo.CountPending(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
