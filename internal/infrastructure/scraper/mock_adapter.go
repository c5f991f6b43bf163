package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

var errSessionClosed = errors.New("session closed")

// MockAdapter simulates the marketplace for demos and dry runs. Listings named in Rejects fail
// with the given message; everything else succeeds.
type MockAdapter struct {
	Rejects map[string]string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions int
}

var _ ports.ScraperAdapter = (*MockAdapter)(nil)

// NewMockAdapter builds a mock adapter that accepts every listing.
func NewMockAdapter(logger *slog.Logger) *MockAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MockAdapter{Rejects: map[string]string{}, logger: logger}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) Login(ctx context.Context) (ports.ScraperSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions++
	m.mu.Unlock()
	return &mockSession{adapter: m}, nil
}

// Sessions reports how many sessions were opened.
func (m *MockAdapter) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

type mockSession struct {
	adapter *MockAdapter
	closed  bool
}

func (s *mockSession) ReAdvertise(ctx context.Context, item domain.BatchItem, listing domain.Listing) (domain.ItemResult, error) {
	return s.outcome(ctx, "readvertise", item, listing)
}

func (s *mockSession) ReUpload(ctx context.Context, item domain.BatchItem, listing domain.Listing, price, rent *int64) (domain.ItemResult, error) {
	if price != nil {
		s.adapter.logger.Debug("mock reupload with price", "listing_id", listing.ID, "price", *price)
	}
	return s.outcome(ctx, "reupload", item, listing)
}

func (s *mockSession) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *mockSession) outcome(ctx context.Context, action string, item domain.BatchItem, listing domain.Listing) (domain.ItemResult, error) {
	if s.closed {
		return domain.ItemResult{}, errSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return domain.ItemResult{}, err
	}
	if msg, ok := s.adapter.Rejects[listing.ID]; ok {
		s.adapter.logger.Info("mock rejected item", "action", action, "item_id", item.ID, "listing_id", listing.ID)
		return domain.Failed(msg), nil
	}
	s.adapter.logger.Info("mock processed item", "action", action, "item_id", item.ID, "listing_id", listing.ID)
	return domain.Succeeded(), nil
}
