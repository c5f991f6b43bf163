package ports

import (
	"context"
	"time"

	"AdRelister/internal/domain"
)

// ArticleSource pulls every live ad for the unit identified by a representative listing id.
type ArticleSource interface {
	FetchUnitArticles(ctx context.Context, representativeID string) ([]domain.Article, error)
}

// ScraperAdapter opens authenticated sessions against the marketplace.
type ScraperAdapter interface {
	Name() string
	Login(ctx context.Context) (ScraperSession, error)
}

// ScraperSession is one logged-in browser context. A non-nil error from any call is a
// session-level failure; per-item problems are reported through ItemResult.
type ScraperSession interface {
	ReAdvertise(ctx context.Context, item domain.BatchItem, listing domain.Listing) (domain.ItemResult, error)
	ReUpload(ctx context.Context, item domain.BatchItem, listing domain.Listing, price, rent *int64) (domain.ItemResult, error)
	Close(ctx context.Context) error
}

// BatchRepository persists batches and their items. Every call is individually atomic.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch domain.Batch, items []domain.BatchItem) error
	FindBatch(ctx context.Context, id string) (domain.Batch, error)
	FindAllBatches(ctx context.Context) ([]domain.Batch, error)
	FindDueBatches(ctx context.Context, now time.Time) ([]domain.Batch, error)
	FindItems(ctx context.Context, batchID string) ([]domain.BatchItem, error)
	UpdateBatchStatus(ctx context.Context, batch domain.Batch) error
	UpdateBatchProgress(ctx context.Context, batchID string, completed, failed int) error
	UpdateItem(ctx context.Context, item domain.BatchItem) error
	DeleteBatch(ctx context.Context, id string) error
}

// ListingRepository reads the operator's listing snapshots.
type ListingRepository interface {
	FindListings(ctx context.Context, ids []string) (map[string]domain.Listing, error)
}

// SessionLock guards the single scraper session allowed at a time. Holders renew it while
// the session is open; Renew reports false once owner no longer holds the lock.
type SessionLock interface {
	TryAcquire(ctx context.Context, owner string) (bool, error)
	Renew(ctx context.Context, owner string) (bool, error)
	Release(ctx context.Context, owner string) error
}

// Notifier tells a human operator about batch outcomes.
type Notifier interface {
	NotifyBatch(ctx context.Context, message string) error
}

// ProgressPublisher streams item transitions to other systems.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, event domain.ProgressEvent) error
}

// ReportArchive stores the final snapshot of a batch run.
type ReportArchive interface {
	StoreReport(ctx context.Context, detail domain.BatchDetail) error
}

// Scheduler controls when due batches are checked.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
