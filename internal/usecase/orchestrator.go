package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

const (
	phaseLogin  = "login"
	phaseRemove = "remove"
	phaseUpload = "upload"
)

// ProgressFunc is invoked after every item transition. Delivery is best-effort: errors and
// panics are logged and never interrupt the run.
type ProgressFunc func(current, total int, item domain.BatchItem, result domain.ItemResult) error

// CreateBatchInput describes a new batch.
type CreateBatchInput struct {
	Name        string
	ListingIDs  []string
	Overrides   map[string]domain.PriceOverride
	ScheduledAt *time.Time
}

// OrchestratorDeps wires the driven adapters used by batch runs.
type OrchestratorDeps struct {
	Batches  ports.BatchRepository
	Listings ports.ListingRepository
	Adapter  ports.ScraperAdapter
	Lock     ports.SessionLock
	// LockRenewInterval is how often a held session lock is renewed. It must be well below
	// the lock's TTL.
	LockRenewInterval time.Duration
	Publisher         ports.ProgressPublisher
	Notifier          ports.Notifier
	Archive           ports.ReportArchive
	Throttle          *Throttle
	Now               func() time.Time
	NewID             func() string
	Logger            *slog.Logger
}

// Orchestrator owns the batch lifecycle and drives the two-phase re-advertise run.
type Orchestrator struct {
	batches    ports.BatchRepository
	listings   ports.ListingRepository
	adapter    ports.ScraperAdapter
	lock       ports.SessionLock
	renewEvery time.Duration
	publisher  ports.ProgressPublisher
	notifier   ports.Notifier
	archive    ports.ReportArchive
	throttle   Throttle
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// NewOrchestrator constructs the orchestrator. Without an explicit lock only one session per
// orchestrator instance can be open at a time.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		batches:    deps.Batches,
		listings:   deps.Listings,
		adapter:    deps.Adapter,
		lock:       deps.Lock,
		renewEvery: deps.LockRenewInterval,
		publisher:  deps.Publisher,
		notifier:   deps.Notifier,
		archive:    deps.Archive,
		throttle:   DefaultThrottle(),
		now:        deps.Now,
		newID:      deps.NewID,
		logger:     deps.Logger,
	}
	if deps.Throttle != nil {
		o.throttle = *deps.Throttle
	}
	if o.lock == nil {
		o.lock = &localSessionLock{}
	}
	if o.renewEvery <= 0 {
		o.renewEvery = defaultLockRenewInterval
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Create stores a batch and one pending item per distinct listing id.
func (o *Orchestrator) Create(ctx context.Context, in CreateBatchInput) (domain.BatchDetail, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.BatchDetail{}, &domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	ids := distinctIDs(in.ListingIDs)
	if len(ids) == 0 {
		return domain.BatchDetail{}, &domain.ValidationError{Field: "listingIds", Reason: "must contain at least one listing"}
	}

	now := o.now()
	batch := domain.Batch{
		ID:         o.newID(),
		Name:       name,
		Status:     domain.BatchPending,
		TotalCount: len(ids),
		CreatedAt:  now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		batch.Status = domain.BatchScheduled
		batch.ScheduledAt = &at
	}

	items := make([]domain.BatchItem, 0, len(ids))
	for i, listingID := range ids {
		override := in.Overrides[listingID]
		items = append(items, domain.BatchItem{
			ID:            o.newID(),
			BatchID:       batch.ID,
			ListingID:     listingID,
			Position:      i,
			Status:        domain.ItemPending,
			RemoveStatus:  domain.StepPending,
			UploadStatus:  domain.StepPending,
			ModifiedPrice: override.Price,
			ModifiedRent:  override.Rent,
			CreatedAt:     now,
		})
	}

	if err := o.batches.CreateBatch(ctx, batch, items); err != nil {
		return domain.BatchDetail{}, domain.Persistence("create batch", err)
	}

	o.logger.Info("batch created", "batch_id", batch.ID, "items", len(items), "status", batch.Status)
	return domain.BatchDetail{Batch: batch, Items: items}, nil
}

// Execute runs both phases over a pending or scheduled batch using a single scraper session.
func (o *Orchestrator) Execute(ctx context.Context, batchID string, progress ProgressFunc) error {
	batch, err := o.batches.FindBatch(ctx, batchID)
	if err != nil {
		return domain.Persistence("find batch", err)
	}
	if !batch.Status.Executable() {
		return &domain.InvalidStateError{BatchID: batchID, Operation: "execute", Status: batch.Status}
	}

	lease, err := o.acquire(ctx, batchID)
	if err != nil {
		return err
	}
	defer lease.release(ctx)

	// Another run may have finished this batch while we waited for the lock.
	batch, items, err := o.load(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.Status.Executable() {
		return &domain.InvalidStateError{BatchID: batchID, Operation: "execute", Status: batch.Status}
	}

	r, err := o.newRun(ctx, batch, items, lease, progress)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx)

	started := o.now()
	r.batch.Status = domain.BatchRemoving
	r.batch.StartedAt = &started
	r.batch.CompletedAt = nil
	r.batch.CompletedCount, r.batch.FailedCount = tally(r.items, phaseRemove)
	if err := r.saveBatch(ctx); err != nil {
		return err
	}

	if err := r.openSession(ctx); err != nil {
		return r.fail(ctx, phaseLogin, err)
	}

	if err := r.runPhase(ctx, phaseRemove, r.indicesWithStatus(domain.ItemPending)); err != nil {
		return r.fail(ctx, phaseRemove, err)
	}

	r.batch.Status = domain.BatchUploading
	r.batch.CompletedCount, r.batch.FailedCount = tally(r.items, phaseUpload)
	if err := r.saveBatch(ctx); err != nil {
		return r.fail(ctx, phaseUpload, err)
	}

	if err := r.runPhase(ctx, phaseUpload, r.indicesWithStatus(domain.ItemRemoved)); err != nil {
		return r.fail(ctx, phaseUpload, err)
	}

	return r.complete(ctx)
}

// Retry re-uploads the failed items of a finished batch.
func (o *Orchestrator) Retry(ctx context.Context, batchID string, progress ProgressFunc) error {
	batch, err := o.batches.FindBatch(ctx, batchID)
	if err != nil {
		return domain.Persistence("find batch", err)
	}
	if !batch.Status.Retryable() {
		return &domain.InvalidStateError{BatchID: batchID, Operation: "retry", Status: batch.Status}
	}

	items, err := o.batches.FindItems(ctx, batchID)
	if err != nil {
		return domain.Persistence("find items", err)
	}
	if len(failedIndices(items)) == 0 {
		return &domain.NoRetryableItemsError{BatchID: batchID}
	}

	lease, err := o.acquire(ctx, batchID)
	if err != nil {
		return err
	}
	defer lease.release(ctx)

	// A concurrent retry may already have picked up the failed items.
	batch, items, err = o.load(ctx, batchID)
	if err != nil {
		return err
	}
	if !batch.Status.Retryable() {
		return &domain.InvalidStateError{BatchID: batchID, Operation: "retry", Status: batch.Status}
	}
	retryIdx := failedIndices(items)
	if len(retryIdx) == 0 {
		return &domain.NoRetryableItemsError{BatchID: batchID}
	}

	r, err := o.newRun(ctx, batch, items, lease, progress)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx)

	r.restore = make(map[int]domain.BatchItem, len(retryIdx))
	for _, idx := range retryIdx {
		r.restore[idx] = r.items[idx]

		item := r.items[idx]
		item.Status = domain.ItemPending
		item.UploadStatus = domain.StepPending
		item.UploadStartedAt = nil
		item.UploadCompletedAt = nil
		item.ErrorMessage = nil
		item.RetryCount++
		if err := r.saveItem(ctx, item); err != nil {
			return r.fail(ctx, phaseUpload, err)
		}
		r.items[idx] = item
	}

	r.batch.Status = domain.BatchUploading
	r.batch.CompletedAt = nil
	r.batch.CompletedCount, r.batch.FailedCount = tally(r.items, phaseUpload)
	if err := r.saveBatch(ctx); err != nil {
		return r.fail(ctx, phaseUpload, err)
	}

	if err := r.openSession(ctx); err != nil {
		return r.fail(ctx, phaseLogin, err)
	}

	if err := r.runPhase(ctx, phaseUpload, retryIdx); err != nil {
		return r.fail(ctx, phaseUpload, err)
	}

	return r.complete(ctx)
}

// acquire takes the session lock under a token unique to this call and keeps it renewed
// until the lease is released.
func (o *Orchestrator) acquire(ctx context.Context, batchID string) (*sessionLease, error) {
	owner := batchID + "/" + o.newID()
	ok, err := o.lock.TryAcquire(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrSessionBusy)
	}

	lease := newSessionLease(o.lock, owner, o.logger.With("batch_id", batchID))
	go lease.keepAlive(context.WithoutCancel(ctx), o.renewEvery)
	return lease, nil
}

func (o *Orchestrator) load(ctx context.Context, batchID string) (domain.Batch, []domain.BatchItem, error) {
	batch, err := o.batches.FindBatch(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, domain.Persistence("find batch", err)
	}
	items, err := o.batches.FindItems(ctx, batchID)
	if err != nil {
		return domain.Batch{}, nil, domain.Persistence("find items", err)
	}
	return batch, items, nil
}

func failedIndices(items []domain.BatchItem) []int {
	var out []int
	for i, item := range items {
		if item.Status == domain.ItemFailed {
			out = append(out, i)
		}
	}
	return out
}

func (o *Orchestrator) newRun(ctx context.Context, batch domain.Batch, items []domain.BatchItem, lease *sessionLease, progress ProgressFunc) (*run, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ListingID)
	}

	listings := map[string]domain.Listing{}
	if o.listings != nil && len(ids) > 0 {
		found, err := o.listings.FindListings(ctx, ids)
		if err != nil {
			return nil, domain.Persistence("find listings", err)
		}
		listings = found
	}

	return &run{
		o:        o,
		batch:    batch,
		items:    items,
		listings: listings,
		lease:    lease,
		progress: progress,
		logger:   o.logger.With("batch_id", batch.ID),
	}, nil
}

// deliver runs a best-effort sink, absorbing both errors and panics.
func (o *Orchestrator) deliver(sink string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Warn("progress sink panicked", "sink", sink, "panic", rec)
		}
	}()
	if err := fn(); err != nil {
		o.logger.Warn("progress sink failed", "sink", sink, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyBatch(ctx, message); err != nil {
		o.logger.Warn("notify operator", "error", err)
	}
}

func (o *Orchestrator) storeReport(ctx context.Context, detail domain.BatchDetail) {
	if o.archive == nil {
		return
	}
	if err := o.archive.StoreReport(ctx, detail); err != nil {
		o.logger.Warn("archive batch report", "batch_id", detail.Batch.ID, "error", err)
	}
}

// run holds the state of one execute or retry call. Items are kept in creation order and
// mirror what has been persisted.
type run struct {
	o        *Orchestrator
	batch    domain.Batch
	items    []domain.BatchItem
	listings map[string]domain.Listing
	session  ports.ScraperSession
	lease    *sessionLease
	progress ProgressFunc
	logger   *slog.Logger
	// restore holds pre-retry snapshots of items reset for a retry run.
	restore map[int]domain.BatchItem
}

func (r *run) openSession(ctx context.Context) error {
	if r.o.adapter == nil {
		return errors.New("no scraper adapter configured")
	}
	session, err := r.o.adapter.Login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	r.session = session
	r.logger.Info("scraper session opened", "adapter", r.o.adapter.Name())
	return nil
}

func (r *run) closeSession(ctx context.Context) {
	if r.session == nil {
		return
	}
	session := r.session
	r.session = nil
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("close scraper session", "error", err)
	}
}

func (r *run) indicesWithStatus(status domain.ItemStatus) []int {
	var out []int
	for i, item := range r.items {
		if item.Status == status {
			out = append(out, i)
		}
	}
	return out
}

func (r *run) runPhase(ctx context.Context, phase string, indices []int) error {
	r.logger.Info("phase started", "phase", phase, "items", len(indices))
	for n, idx := range indices {
		if n > 0 {
			if err := r.o.throttle.Wait(ctx); err != nil {
				return fmt.Errorf("throttle: %w", err)
			}
		}
		if err := r.lease.Err(); err != nil {
			return err
		}
		if err := r.processItem(ctx, phase, idx, n+1, len(indices)); err != nil {
			return err
		}
	}
	r.logger.Info("phase finished", "phase", phase, "completed", r.batch.CompletedCount, "failed", r.batch.FailedCount)
	return nil
}

func (r *run) processItem(ctx context.Context, phase string, idx, current, total int) error {
	before := r.items[idx]
	item := before
	started := r.o.now()
	switch phase {
	case phaseRemove:
		item.Status = domain.ItemRemoving
		item.RemoveStatus = domain.StepProcessing
		item.RemoveStartedAt = &started
	case phaseUpload:
		item.Status = domain.ItemUploading
		item.UploadStatus = domain.StepProcessing
		item.UploadStartedAt = &started
	}
	item.ErrorMessage = nil
	if err := r.saveItem(ctx, item); err != nil {
		return err
	}
	r.items[idx] = item

	result, err := r.invoke(ctx, phase, item)
	if err != nil {
		// The item was not processed; put it back so counts only reflect finished items.
		if rerr := r.o.batches.UpdateItem(context.WithoutCancel(ctx), before); rerr != nil {
			r.logger.Warn("restore in-flight item", "item_id", item.ID, "error", rerr)
		} else {
			r.items[idx] = before
		}
		return err
	}

	item = applyResult(item, phase, result, r.o.now())
	if err := r.saveItem(ctx, item); err != nil {
		return err
	}
	r.items[idx] = item

	if err := r.refreshProgress(ctx, phase); err != nil {
		return err
	}

	if result.Success {
		r.logger.Info("item processed", "phase", phase, "item_id", item.ID, "listing_id", item.ListingID, "current", current, "total", total)
	} else {
		r.logger.Warn("item failed", "phase", phase, "item_id", item.ID, "listing_id", item.ListingID, "error", result.Error)
	}
	r.report(ctx, phase, current, total, item, result)
	return nil
}

func (r *run) invoke(ctx context.Context, phase string, item domain.BatchItem) (domain.ItemResult, error) {
	listing, ok := r.listings[item.ListingID]
	if !ok {
		return domain.Failed("listing snapshot not found"), nil
	}

	var (
		result domain.ItemResult
		err    error
	)
	switch phase {
	case phaseRemove:
		result, err = r.session.ReAdvertise(ctx, item, listing)
	case phaseUpload:
		result, err = r.session.ReUpload(ctx, item, listing, item.ModifiedPrice, item.ModifiedRent)
	default:
		return domain.ItemResult{}, fmt.Errorf("unknown phase %q", phase)
	}
	if err != nil {
		return domain.ItemResult{}, fmt.Errorf("%s listing %s: %w", phase, item.ListingID, err)
	}
	if !result.Success && strings.TrimSpace(result.Error) == "" {
		result.Error = "scraper reported failure without a message"
	}
	return result, nil
}

func applyResult(item domain.BatchItem, phase string, result domain.ItemResult, at time.Time) domain.BatchItem {
	var msg *string
	if !result.Success {
		m := result.Error
		msg = &m
	}
	item.ErrorMessage = msg

	switch phase {
	case phaseRemove:
		if result.Success {
			item.Status = domain.ItemRemoved
			item.RemoveStatus = domain.StepCompleted
			item.RemoveCompletedAt = &at
		} else {
			item.Status = domain.ItemFailed
			item.RemoveStatus = domain.StepFailed
		}
	case phaseUpload:
		if result.Success {
			item.Status = domain.ItemCompleted
			item.UploadStatus = domain.StepCompleted
			item.UploadCompletedAt = &at
		} else {
			item.Status = domain.ItemFailed
			item.UploadStatus = domain.StepFailed
		}
	}
	return item
}

// refreshProgress recomputes the batch counters from a fresh scan of every item.
func (r *run) refreshProgress(ctx context.Context, phase string) error {
	items, err := r.o.batches.FindItems(ctx, r.batch.ID)
	if err != nil {
		return domain.Persistence("find items", err)
	}
	completed, failed := tally(items, phase)
	if err := r.o.batches.UpdateBatchProgress(ctx, r.batch.ID, completed, failed); err != nil {
		return domain.Persistence("update batch progress", err)
	}
	r.batch.CompletedCount = completed
	r.batch.FailedCount = failed
	return nil
}

// tally counts items that succeeded the given phase and items that failed.
func tally(items []domain.BatchItem, phase string) (completed, failed int) {
	for _, item := range items {
		switch item.Status {
		case domain.ItemCompleted:
			completed++
		case domain.ItemRemoved:
			if phase == phaseRemove {
				completed++
			}
		case domain.ItemFailed:
			failed++
		}
	}
	return completed, failed
}

func (r *run) report(ctx context.Context, phase string, current, total int, item domain.BatchItem, result domain.ItemResult) {
	if r.progress != nil {
		r.o.deliver("callback", func() error {
			return r.progress(current, total, item, result)
		})
	}
	if r.o.publisher != nil {
		event := domain.ProgressEvent{
			BatchID: r.batch.ID,
			Phase:   phase,
			Current: current,
			Total:   total,
			Item:    item,
			Result:  result,
			At:      r.o.now(),
		}
		r.o.deliver("publisher", func() error {
			return r.o.publisher.PublishProgress(ctx, event)
		})
	}
}

func (r *run) saveItem(ctx context.Context, item domain.BatchItem) error {
	if err := r.o.batches.UpdateItem(ctx, item); err != nil {
		return domain.Persistence("update item", err)
	}
	return nil
}

func (r *run) saveBatch(ctx context.Context) error {
	if err := r.o.batches.UpdateBatchStatus(ctx, r.batch); err != nil {
		return domain.Persistence("update batch status", err)
	}
	return nil
}

func (r *run) complete(ctx context.Context) error {
	r.closeSession(ctx)

	finished := r.o.now()
	r.batch.Status = domain.BatchCompleted
	r.batch.CompletedAt = &finished
	r.batch.CompletedCount, r.batch.FailedCount = tally(r.items, phaseUpload)
	if err := r.saveBatch(ctx); err != nil {
		return err
	}

	detail := domain.NewBatchDetail(r.batch, r.items)
	r.logger.Info("batch completed", "completed", r.batch.CompletedCount, "failed", r.batch.FailedCount,
		"total", r.batch.TotalCount, "stranded", len(detail.Stranded))
	r.o.notify(ctx, fmt.Sprintf("Batch %q completed: %d succeeded, %d failed of %d%s",
		r.batch.Name, r.batch.CompletedCount, r.batch.FailedCount, r.batch.TotalCount, strandedNote(detail.Stranded)))
	r.o.storeReport(ctx, detail)
	return nil
}

// fail closes the session and persists the failed batch. Persistence errors are returned as is;
// anything else is a session-level failure.
func (r *run) fail(ctx context.Context, phase string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	r.closeSession(ctx)

	for idx, snapshot := range r.restore {
		if r.items[idx].Status != domain.ItemPending {
			continue
		}
		if err := r.o.batches.UpdateItem(ctx, snapshot); err != nil {
			r.logger.Warn("restore retry item", "item_id", snapshot.ID, "error", err)
			continue
		}
		r.items[idx] = snapshot
	}

	countPhase := phase
	if countPhase == phaseLogin {
		countPhase = phaseRemove
		if r.restore != nil {
			countPhase = phaseUpload
		}
	}
	finished := r.o.now()
	r.batch.Status = domain.BatchFailed
	r.batch.CompletedAt = &finished
	r.batch.CompletedCount, r.batch.FailedCount = tally(r.items, countPhase)
	if err := r.o.batches.UpdateBatchStatus(ctx, r.batch); err != nil {
		r.logger.Error("persist failed batch", "error", err)
	}

	detail := domain.NewBatchDetail(r.batch, r.items)
	r.o.storeReport(ctx, detail)
	note := strandedNote(detail.Stranded)

	var pe *domain.PersistenceError
	if errors.As(cause, &pe) {
		r.logger.Error("batch aborted by persistence failure", "phase", phase, "error", cause)
		r.o.notify(ctx, fmt.Sprintf("Batch %q aborted during %s: %v%s", r.batch.Name, phase, cause, note))
		return cause
	}

	r.logger.Error("batch failed", "phase", phase, "error", cause)
	r.o.notify(ctx, fmt.Sprintf("Batch %q failed during %s, operator action required: %v%s", r.batch.Name, phase, cause, note))
	return &domain.FatalSessionError{BatchID: r.batch.ID, Phase: phase, Err: cause}
}

// strandedNote names listings that are off the marketplace and will not be re-uploaded by a retry.
func strandedNote(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return fmt.Sprintf("; %d listing(s) taken down but not re-uploaded: %s", len(ids), strings.Join(ids, ", "))
}

func distinctIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
