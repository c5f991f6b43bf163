package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

// MemoryRepository keeps batches, items and listings in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	batches  map[string]domain.Batch
	items    map[string][]domain.BatchItem
	listings map[string]domain.Listing
}

var (
	_ ports.BatchRepository   = (*MemoryRepository)(nil)
	_ ports.ListingRepository = (*MemoryRepository)(nil)
)

// NewMemoryRepository builds an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		batches:  map[string]domain.Batch{},
		items:    map[string][]domain.BatchItem{},
		listings: map[string]domain.Listing{},
	}
}

// PutListings adds or replaces listing snapshots.
func (m *MemoryRepository) PutListings(listings ...domain.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range listings {
		m.listings[l.ID] = l
	}
}

func (m *MemoryRepository) CreateBatch(_ context.Context, batch domain.Batch, items []domain.BatchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[batch.ID]; ok {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	m.batches[batch.ID] = batch
	m.items[batch.ID] = append([]domain.BatchItem(nil), items...)
	return nil
}

func (m *MemoryRepository) FindBatch(_ context.Context, id string) (domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch, ok := m.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return batch, nil
}

func (m *MemoryRepository) FindAllBatches(_ context.Context) ([]domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) FindDueBatches(_ context.Context, now time.Time) ([]domain.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Status == domain.BatchScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(*out[j].ScheduledAt)
	})
	return out, nil
}

func (m *MemoryRepository) FindItems(_ context.Context, batchID string) ([]domain.BatchItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.batches[batchID]; !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	out := append([]domain.BatchItem(nil), m.items[batchID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryRepository) UpdateBatchStatus(_ context.Context, batch domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[batch.ID]; !ok {
		return fmt.Errorf("batch %s: %w", batch.ID, domain.ErrNotFound)
	}
	m.batches[batch.ID] = batch
	return nil
}

func (m *MemoryRepository) UpdateBatchProgress(_ context.Context, batchID string, completed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	batch.CompletedCount = completed
	batch.FailedCount = failed
	m.batches[batchID] = batch
	return nil
}

func (m *MemoryRepository) UpdateItem(_ context.Context, item domain.BatchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[item.BatchID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	return fmt.Errorf("item %s: %w", item.ID, domain.ErrNotFound)
}

func (m *MemoryRepository) DeleteBatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; !ok {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	delete(m.batches, id)
	delete(m.items, id)
	return nil
}

func (m *MemoryRepository) FindListings(_ context.Context, ids []string) (map[string]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Listing, len(ids))
	for _, id := range ids {
		if l, ok := m.listings[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}
