package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdRelister/internal/domain"
	"AdRelister/internal/infrastructure/storage"
	"AdRelister/internal/ports"
)

type fakeSession struct {
	mu          sync.Mutex
	calls       []string
	uploads     map[string]*int64
	readvertise func(listingID string) (domain.ItemResult, error)
	reupload    func(listingID string) (domain.ItemResult, error)
	closed      int
}

func (s *fakeSession) ReAdvertise(_ context.Context, item domain.BatchItem, _ domain.Listing) (domain.ItemResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "remove:"+item.ListingID)
	s.mu.Unlock()
	if s.readvertise != nil {
		return s.readvertise(item.ListingID)
	}
	return domain.Succeeded(), nil
}

func (s *fakeSession) ReUpload(_ context.Context, item domain.BatchItem, _ domain.Listing, price, _ *int64) (domain.ItemResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "upload:"+item.ListingID)
	if s.uploads == nil {
		s.uploads = map[string]*int64{}
	}
	s.uploads[item.ListingID] = price
	s.mu.Unlock()
	if s.reupload != nil {
		return s.reupload(item.ListingID)
	}
	return domain.Succeeded(), nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeAdapter struct {
	session  *fakeSession
	loginErr error
	logins   int
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Login(context.Context) (ports.ScraperSession, error) {
	a.logins++
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	return a.session, nil
}

type harness struct {
	repo    *storage.MemoryRepository
	adapter *fakeAdapter
	session *fakeSession
	lock    *localSessionLock
	sleeps  int
	orch    *Orchestrator
}

func newHarness(t *testing.T, listingIDs ...string) *harness {
	t.Helper()

	h := &harness{
		repo:    storage.NewMemoryRepository(),
		session: &fakeSession{},
		lock:    &localSessionLock{},
	}
	h.adapter = &fakeAdapter{session: h.session}
	for _, id := range listingIDs {
		h.repo.PutListings(domain.Listing{ID: id, ArticleNo: "A-" + id, Title: "listing " + id})
	}

	seq := 0
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.orch = NewOrchestrator(OrchestratorDeps{
		Batches:  h.repo,
		Listings: h.repo,
		Adapter:  h.adapter,
		Lock:     h.lock,
		Throttle: &Throttle{
			Min: 2 * time.Second,
			Max: 3 * time.Second,
			Sleep: func(_ context.Context, d time.Duration) error {
				h.sleeps++
				if d < 2*time.Second || d > 3*time.Second {
					return fmt.Errorf("delay %s out of range", d)
				}
				return nil
			},
		},
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return h
}

func (h *harness) create(t *testing.T, ids ...string) domain.BatchDetail {
	t.Helper()
	detail, err := h.orch.Create(context.Background(), CreateBatchInput{Name: "morning", ListingIDs: ids})
	require.NoError(t, err)
	return detail
}

func (h *harness) load(t *testing.T, id string) (domain.Batch, []domain.BatchItem) {
	t.Helper()
	batch, err := h.repo.FindBatch(context.Background(), id)
	require.NoError(t, err)
	items, err := h.repo.FindItems(context.Background(), id)
	require.NoError(t, err)
	return batch, items
}

func statuses(items []domain.BatchItem) []domain.ItemStatus {
	out := make([]domain.ItemStatus, 0, len(items))
	for _, item := range items {
		out = append(out, item.Status)
	}
	return out
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Create(ctx, CreateBatchInput{Name: "  ", ListingIDs: []string{"L1"}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.orch.Create(ctx, CreateBatchInput{Name: "empty"})
	require.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "listingIds", ve.Field)

	all, err := h.repo.FindAllBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	price := int64(52000)
	at := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	detail, err := h.orch.Create(context.Background(), CreateBatchInput{
		Name:        "weekly",
		ListingIDs:  []string{"L1", "L2", "L1", " ", "L3"},
		Overrides:   map[string]domain.PriceOverride{"L2": {Price: &price}},
		ScheduledAt: &at,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.BatchScheduled, detail.Batch.Status)
	assert.Equal(t, 3, detail.Batch.TotalCount)
	require.Len(t, detail.Items, 3)
	for i, item := range detail.Items {
		assert.Equal(t, i, item.Position)
		assert.Equal(t, domain.ItemPending, item.Status)
		assert.Equal(t, domain.StepPending, item.RemoveStatus)
		assert.Equal(t, domain.StepPending, item.UploadStatus)
	}
	assert.Equal(t, []string{"L1", "L2", "L3"}, []string{detail.Items[0].ListingID, detail.Items[1].ListingID, detail.Items[2].ListingID})
	require.NotNil(t, detail.Items[1].ModifiedPrice)
	assert.Equal(t, price, *detail.Items[1].ModifiedPrice)
	assert.Nil(t, detail.Items[0].ModifiedPrice)

	pending, err := h.orch.Create(context.Background(), CreateBatchInput{Name: "now", ListingIDs: []string{"L9"}})
	require.NoError(t, err)
	assert.Equal(t, domain.BatchPending, pending.Batch.Status)
	assert.Nil(t, pending.Batch.ScheduledAt)
}

func TestExecuteRunsRemoveThenUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	detail := h.create(t, "L1", "L2", "L3")

	var seen []int
	err := h.orch.Execute(context.Background(), detail.Batch.ID, func(current, total int, _ domain.BatchItem, result domain.ItemResult) error {
		assert.Equal(t, 3, total)
		assert.True(t, result.Success)
		seen = append(seen, current)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"remove:L1", "remove:L2", "remove:L3",
		"upload:L1", "upload:L2", "upload:L3",
	}, h.session.calls)
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, seen)
	assert.Equal(t, 4, h.sleeps)
	assert.Equal(t, 1, h.adapter.logins)
	assert.Equal(t, 1, h.session.closed)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 3, batch.CompletedCount)
	assert.Equal(t, 0, batch.FailedCount)
	require.NotNil(t, batch.StartedAt)
	require.NotNil(t, batch.CompletedAt)
	for _, item := range items {
		assert.Equal(t, domain.ItemCompleted, item.Status)
		assert.Equal(t, domain.StepCompleted, item.RemoveStatus)
		assert.Equal(t, domain.StepCompleted, item.UploadStatus)
		require.NotNil(t, item.RemoveCompletedAt)
		require.NotNil(t, item.UploadStartedAt)
		assert.True(t, item.RemoveCompletedAt.Before(*item.UploadStartedAt))
		assert.Nil(t, item.ErrorMessage)
	}

	ok, err := h.lock.TryAcquire(context.Background(), "next")
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after the run")
}

func TestExecutePassesPriceOverrides(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2")
	price := int64(48000)
	detail, err := h.orch.Create(context.Background(), CreateBatchInput{
		Name:       "repriced",
		ListingIDs: []string{"L1", "L2"},
		Overrides:  map[string]domain.PriceOverride{"L1": {Price: &price}},
	})
	require.NoError(t, err)

	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	require.NotNil(t, h.session.uploads["L1"])
	assert.Equal(t, price, *h.session.uploads["L1"])
	assert.Nil(t, h.session.uploads["L2"])
}

func TestExecuteRecordsItemFailuresAndContinues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	h.session.readvertise = func(id string) (domain.ItemResult, error) {
		if id == "L2" {
			return domain.Failed("ad not found on marketplace"), nil
		}
		return domain.Succeeded(), nil
	}
	h.session.reupload = func(id string) (domain.ItemResult, error) {
		if id == "L3" {
			return domain.ItemResult{}, nil
		}
		return domain.Succeeded(), nil
	}
	detail := h.create(t, "L1", "L2", "L3")

	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	assert.Equal(t, []string{
		"remove:L1", "remove:L2", "remove:L3",
		"upload:L1", "upload:L3",
	}, h.session.calls)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 2, batch.FailedCount)
	assert.Equal(t, []domain.ItemStatus{domain.ItemCompleted, domain.ItemFailed, domain.ItemFailed}, statuses(items))

	assert.Equal(t, domain.StepFailed, items[1].RemoveStatus)
	require.NotNil(t, items[1].ErrorMessage)
	assert.Equal(t, "ad not found on marketplace", *items[1].ErrorMessage)

	assert.Equal(t, domain.StepCompleted, items[2].RemoveStatus)
	assert.Equal(t, domain.StepFailed, items[2].UploadStatus)
	require.NotNil(t, items[2].ErrorMessage)
	assert.NotEmpty(t, *items[2].ErrorMessage)
}

func TestExecuteMissingListingFailsItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	detail := h.create(t, "L1", "GONE")

	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, domain.ItemFailed, items[1].Status)
	assert.NotContains(t, h.session.calls, "remove:GONE")
}

func TestExecuteRejectsNonExecutableBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	detail := h.create(t, "L1")
	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	err := h.orch.Execute(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	var ise *domain.InvalidStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, domain.BatchCompleted, ise.Status)
	assert.Equal(t, 1, h.adapter.logins)
}

func TestExecuteUnknownBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.orch.Execute(context.Background(), "missing", nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecuteLoginFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2")
	h.adapter.loginErr = errors.New("captcha required")
	detail := h.create(t, "L1", "L2")

	err := h.orch.Execute(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrFatalSession)
	var fse *domain.FatalSessionError
	require.ErrorAs(t, err, &fse)
	assert.Equal(t, phaseLogin, fse.Phase)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchFailed, batch.Status)
	assert.Equal(t, 0, batch.CompletedCount+batch.FailedCount)
	assert.Equal(t, []domain.ItemStatus{domain.ItemPending, domain.ItemPending}, statuses(items))
	assert.Empty(t, h.session.calls)
}

func TestExecuteFatalErrorKeepsCountsConsistent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3", "L4")
	h.session.readvertise = func(id string) (domain.ItemResult, error) {
		switch id {
		case "L2":
			return domain.Failed("listing expired"), nil
		case "L3":
			return domain.ItemResult{}, errors.New("session expired")
		}
		return domain.Succeeded(), nil
	}
	detail := h.create(t, "L1", "L2", "L3", "L4")

	err := h.orch.Execute(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrFatalSession)
	var fse *domain.FatalSessionError
	require.ErrorAs(t, err, &fse)
	assert.Equal(t, phaseRemove, fse.Phase)

	assert.Equal(t, []string{"remove:L1", "remove:L2", "remove:L3"}, h.session.calls)
	assert.Equal(t, 1, h.session.closed)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchFailed, batch.Status)
	assert.Equal(t, 2, batch.CompletedCount+batch.FailedCount, "only the items processed before the crash are counted")
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 1, batch.FailedCount)
	assert.Equal(t, []domain.ItemStatus{
		domain.ItemRemoved, domain.ItemFailed, domain.ItemPending, domain.ItemPending,
	}, statuses(items))
	assert.Equal(t, domain.StepPending, items[2].RemoveStatus)
	assert.Nil(t, items[2].RemoveStartedAt)
}

func TestRetryUploadsOnlyFailedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	h.session.reupload = func(id string) (domain.ItemResult, error) {
		if id == "L2" {
			return domain.Failed("photo upload rejected"), nil
		}
		return domain.Succeeded(), nil
	}
	detail := h.create(t, "L1", "L2", "L3")
	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	h.session.calls = nil
	h.session.reupload = nil
	require.NoError(t, h.orch.Retry(context.Background(), detail.Batch.ID, nil))

	assert.Equal(t, []string{"upload:L2"}, h.session.calls)
	assert.Equal(t, 2, h.session.closed)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 3, batch.CompletedCount)
	assert.Equal(t, 0, batch.FailedCount)
	assert.Equal(t, 1, items[1].RetryCount)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.Nil(t, items[1].ErrorMessage)
	assert.Equal(t, domain.StepCompleted, items[1].UploadStatus)
}

func TestRetryAfterFatalRemovePhase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	h.session.readvertise = func(id string) (domain.ItemResult, error) {
		if id == "L1" {
			return domain.Failed("already hidden"), nil
		}
		if id == "L3" {
			return domain.ItemResult{}, errors.New("browser crashed")
		}
		return domain.Succeeded(), nil
	}
	detail := h.create(t, "L1", "L2", "L3")
	require.ErrorIs(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil), domain.ErrFatalSession)

	h.session.calls = nil
	require.NoError(t, h.orch.Retry(context.Background(), detail.Batch.ID, nil))
	assert.Equal(t, []string{"upload:L1"}, h.session.calls)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, []domain.ItemStatus{domain.ItemCompleted, domain.ItemRemoved, domain.ItemPending}, statuses(items))
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 0, batch.FailedCount)
}

func TestStrandedListingsAreReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	h.session.readvertise = func(id string) (domain.ItemResult, error) {
		if id == "L1" {
			return domain.Failed("already hidden"), nil
		}
		if id == "L3" {
			return domain.ItemResult{}, errors.New("browser crashed")
		}
		return domain.Succeeded(), nil
	}
	notifier := &recordingNotifier{}
	archive := &recordingArchive{}
	orch := NewOrchestrator(OrchestratorDeps{
		Batches:  h.repo,
		Listings: h.repo,
		Adapter:  h.adapter,
		Notifier: notifier,
		Archive:  archive,
		Throttle: &Throttle{Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	detail, err := orch.Create(context.Background(), CreateBatchInput{Name: "evening", ListingIDs: []string{"L1", "L2", "L3"}})
	require.NoError(t, err)

	require.ErrorIs(t, orch.Execute(context.Background(), detail.Batch.ID, nil), domain.ErrFatalSession)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "taken down but not re-uploaded: L2")
	assert.Equal(t, []string{"L2"}, archive.reports[0].Stranded)

	require.NoError(t, orch.Retry(context.Background(), detail.Batch.ID, nil))
	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "completed")
	assert.Contains(t, notifier.messages[1], "1 listing(s) taken down but not re-uploaded: L2")
	require.Len(t, archive.reports, 2)
	assert.Equal(t, []string{"L2"}, archive.reports[1].Stranded)

	got, err := NewBatchService(h.repo, orch, nil).GetBatchDetail(context.Background(), detail.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"L2"}, got.Stranded)
}

func TestCompletedRunHasNoStrandedListings(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	notifier := &recordingNotifier{}
	orch := NewOrchestrator(OrchestratorDeps{
		Batches:  h.repo,
		Listings: h.repo,
		Adapter:  h.adapter,
		Notifier: notifier,
		Throttle: &Throttle{Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	detail, err := orch.Create(context.Background(), CreateBatchInput{Name: "clean", ListingIDs: []string{"L1"}})
	require.NoError(t, err)
	require.NoError(t, orch.Execute(context.Background(), detail.Batch.ID, nil))

	require.Len(t, notifier.messages, 1)
	assert.NotContains(t, notifier.messages[0], "taken down")
}

func TestRetryFatalRestoresFailedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2", "L3")
	h.session.reupload = func(string) (domain.ItemResult, error) {
		return domain.Failed("rejected"), nil
	}
	detail := h.create(t, "L1", "L2", "L3")
	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	h.session.reupload = func(id string) (domain.ItemResult, error) {
		if id == "L2" {
			return domain.ItemResult{}, errors.New("logged out")
		}
		return domain.Succeeded(), nil
	}
	err := h.orch.Retry(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrFatalSession)

	batch, items := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchFailed, batch.Status)
	assert.Equal(t, []domain.ItemStatus{domain.ItemCompleted, domain.ItemFailed, domain.ItemFailed}, statuses(items))
	assert.Equal(t, 1, batch.CompletedCount)
	assert.Equal(t, 2, batch.FailedCount)

	h.session.reupload = nil
	require.NoError(t, h.orch.Retry(context.Background(), detail.Batch.ID, nil))
	batch, _ = h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 3, batch.CompletedCount)
}

func TestRetryRejectsPendingBatchWithoutMutation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	detail := h.create(t, "L1")
	beforeBatch, beforeItems := h.load(t, detail.Batch.ID)

	err := h.orch.Retry(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	afterBatch, afterItems := h.load(t, detail.Batch.ID)
	assert.Equal(t, beforeBatch, afterBatch)
	assert.Equal(t, beforeItems, afterItems)
	assert.Zero(t, h.adapter.logins)
}

func TestRetryWithoutFailedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	detail := h.create(t, "L1")
	require.NoError(t, h.orch.Execute(context.Background(), detail.Batch.ID, nil))

	err := h.orch.Retry(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrNoRetryableItems)
	assert.Equal(t, 1, h.adapter.logins)
}

func TestExecuteSessionBusy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1")
	detail := h.create(t, "L1")
	ok, err := h.lock.TryAcquire(context.Background(), "other-batch")
	require.NoError(t, err)
	require.True(t, ok)

	err = h.orch.Execute(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	batch, _ := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchPending, batch.Status)
	assert.Zero(t, h.adapter.logins)
}

func TestProgressFailuresDoNotAbortRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2")
	detail := h.create(t, "L1", "L2")

	calls := 0
	err := h.orch.Execute(context.Background(), detail.Batch.ID, func(current, _ int, _ domain.BatchItem, _ domain.ItemResult) error {
		calls++
		if current == 1 {
			panic("ui went away")
		}
		return errors.New("socket closed")
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)

	batch, _ := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
	assert.Equal(t, 2, batch.CompletedCount)
}

type flakyRepo struct {
	*storage.MemoryRepository
	failItemWrites int
	writes         int
}

func (r *flakyRepo) UpdateItem(ctx context.Context, item domain.BatchItem) error {
	r.writes++
	if r.failItemWrites > 0 && r.writes == r.failItemWrites {
		return errors.New("connection reset")
	}
	return r.MemoryRepository.UpdateItem(ctx, item)
}

func TestExecutePersistenceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2")
	repo := &flakyRepo{MemoryRepository: h.repo, failItemWrites: 3}
	orch := NewOrchestrator(OrchestratorDeps{
		Batches:  repo,
		Listings: repo,
		Adapter:  h.adapter,
		Throttle: &Throttle{Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	detail, err := orch.Create(context.Background(), CreateBatchInput{Name: "db", ListingIDs: []string{"L1", "L2"}})
	require.NoError(t, err)

	err = orch.Execute(context.Background(), detail.Batch.ID, nil)
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, domain.ErrFatalSession)
	assert.Equal(t, 1, h.session.closed)

	batch, _ := h.load(t, detail.Batch.ID)
	assert.Equal(t, domain.BatchFailed, batch.Status)
}

type recordingPublisher struct {
	events []domain.ProgressEvent
}

func (p *recordingPublisher) PublishProgress(_ context.Context, event domain.ProgressEvent) error {
	p.events = append(p.events, event)
	return errors.New("broker down")
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) NotifyBatch(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

type recordingArchive struct {
	reports []domain.BatchDetail
}

func (a *recordingArchive) StoreReport(_ context.Context, detail domain.BatchDetail) error {
	a.reports = append(a.reports, detail)
	return nil
}

func TestExecuteFansOutToSinks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "L1", "L2")
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	archive := &recordingArchive{}
	orch := NewOrchestrator(OrchestratorDeps{
		Batches:   h.repo,
		Listings:  h.repo,
		Adapter:   h.adapter,
		Publisher: pub,
		Notifier:  notifier,
		Archive:   archive,
		Throttle:  &Throttle{Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	detail, err := orch.Create(context.Background(), CreateBatchInput{Name: "sinks", ListingIDs: []string{"L1", "L2"}})
	require.NoError(t, err)

	require.NoError(t, orch.Execute(context.Background(), detail.Batch.ID, nil))

	require.Len(t, pub.events, 4)
	assert.Equal(t, phaseRemove, pub.events[0].Phase)
	assert.Equal(t, phaseUpload, pub.events[3].Phase)
	assert.Equal(t, detail.Batch.ID, pub.events[3].BatchID)

	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "sinks")

	require.Len(t, archive.reports, 1)
	assert.Equal(t, domain.BatchCompleted, archive.reports[0].Batch.Status)
	assert.Len(t, archive.reports[0].Items, 2)
}

func TestThrottleDelayRange(t *testing.T) {
	t.Parallel()

	th := DefaultThrottle()
	for range 200 {
		d := th.Delay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}

	fixed := Throttle{Min: time.Second, Max: time.Millisecond}
	assert.Equal(t, time.Second, fixed.Delay())
}

func TestThrottleWaitHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Throttle{Min: time.Hour, Max: time.Hour}.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
