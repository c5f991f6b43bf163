package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdRelister/internal/domain"
)

func TestMemoryRepositoryLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := domain.Batch{ID: "b1", Name: "n", Status: domain.BatchPending, TotalCount: 2, CreatedAt: now}
	items := []domain.BatchItem{
		{ID: "i2", BatchID: "b1", ListingID: "L2", Position: 1, Status: domain.ItemPending},
		{ID: "i1", BatchID: "b1", ListingID: "L1", Position: 0, Status: domain.ItemPending},
	}
	require.NoError(t, repo.CreateBatch(ctx, batch, items))
	require.Error(t, repo.CreateBatch(ctx, batch, nil))

	got, err := repo.FindItems(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i1", got[0].ID)

	got[0].Status = domain.ItemCompleted
	stored, err := repo.FindItems(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPending, stored[0].Status, "returned slices must be copies")

	require.NoError(t, repo.UpdateItem(ctx, got[0]))
	require.NoError(t, repo.UpdateBatchProgress(ctx, "b1", 1, 0))
	b, err := repo.FindBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.CompletedCount)

	require.ErrorIs(t, repo.UpdateItem(ctx, domain.BatchItem{ID: "nope", BatchID: "b1"}), domain.ErrNotFound)

	require.NoError(t, repo.DeleteBatch(ctx, "b1"))
	_, err = repo.FindBatch(ctx, "b1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.FindItems(ctx, "b1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRepositoryDueBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	early := now.Add(-2 * time.Hour)
	late := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, b := range []domain.Batch{
		{ID: "late", Status: domain.BatchScheduled, ScheduledAt: &late},
		{ID: "early", Status: domain.BatchScheduled, ScheduledAt: &early},
		{ID: "future", Status: domain.BatchScheduled, ScheduledAt: &future},
		{ID: "done", Status: domain.BatchCompleted, ScheduledAt: &early},
		{ID: "manual", Status: domain.BatchPending},
	} {
		require.NoError(t, repo.CreateBatch(ctx, b, nil))
	}

	due, err := repo.FindDueBatches(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].ID)
	assert.Equal(t, "late", due[1].ID)
}

func TestMemoryRepositoryListings(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	repo.PutListings(domain.Listing{ID: "L1", Title: "a"}, domain.Listing{ID: "L2", Title: "b"})

	found, err := repo.FindListings(context.Background(), []string{"L1", "L3"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "a", found["L1"].Title)
}
