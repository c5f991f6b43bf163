package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

// BatchService exposes batch operations to callers.
type BatchService struct {
	batches      ports.BatchRepository
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewBatchService wires the repository with the orchestrator that owns batch mutations.
func NewBatchService(batches ports.BatchRepository, orchestrator *Orchestrator, logger *slog.Logger) *BatchService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BatchService{batches: batches, orchestrator: orchestrator, logger: logger}
}

// CreateBatch registers a new batch of listings.
func (s *BatchService) CreateBatch(ctx context.Context, in CreateBatchInput) (domain.BatchDetail, error) {
	return s.orchestrator.Create(ctx, in)
}

// ExecuteBatch runs a pending or scheduled batch to completion.
func (s *BatchService) ExecuteBatch(ctx context.Context, id string, progress ProgressFunc) error {
	return s.orchestrator.Execute(ctx, id, progress)
}

// RetryBatch re-uploads the failed items of a finished batch.
func (s *BatchService) RetryBatch(ctx context.Context, id string, progress ProgressFunc) error {
	return s.orchestrator.Retry(ctx, id, progress)
}

// GetAllBatches lists batches, newest first.
func (s *BatchService) GetAllBatches(ctx context.Context) ([]domain.Batch, error) {
	batches, err := s.batches.FindAllBatches(ctx)
	if err != nil {
		return nil, domain.Persistence("find batches", err)
	}
	return batches, nil
}

// GetBatchDetail returns a batch with its items.
func (s *BatchService) GetBatchDetail(ctx context.Context, id string) (domain.BatchDetail, error) {
	batch, err := s.batches.FindBatch(ctx, id)
	if err != nil {
		return domain.BatchDetail{}, domain.Persistence("find batch", err)
	}
	items, err := s.batches.FindItems(ctx, id)
	if err != nil {
		return domain.BatchDetail{}, domain.Persistence("find items", err)
	}
	return domain.NewBatchDetail(batch, items), nil
}

// DeleteBatch removes a batch that is not currently running.
func (s *BatchService) DeleteBatch(ctx context.Context, id string) error {
	batch, err := s.batches.FindBatch(ctx, id)
	if err != nil {
		return domain.Persistence("find batch", err)
	}
	switch batch.Status {
	case domain.BatchRemoving, domain.BatchRemoved, domain.BatchUploading:
		return &domain.InvalidStateError{BatchID: id, Operation: "delete", Status: batch.Status}
	}
	if err := s.batches.DeleteBatch(ctx, id); err != nil {
		return domain.Persistence("delete batch", err)
	}
	s.logger.Info("batch deleted", "batch_id", id)
	return nil
}

// RunDue executes every scheduled batch whose time has come, one after another.
func (s *BatchService) RunDue(ctx context.Context, now time.Time) error {
	due, err := s.batches.FindDueBatches(ctx, now)
	if err != nil {
		return domain.Persistence("find due batches", err)
	}

	var errs []error
	for _, batch := range due {
		s.logger.Info("running scheduled batch", "batch_id", batch.ID, "scheduled_at", batch.ScheduledAt)
		err := s.orchestrator.Execute(ctx, batch.ID, nil)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrSessionBusy):
			s.logger.Info("scheduled batch skipped, session busy", "batch_id", batch.ID)
			return nil
		case errors.Is(err, domain.ErrInvalidState):
			s.logger.Debug("scheduled batch already picked up", "batch_id", batch.ID)
		default:
			s.logger.Error("scheduled batch failed", "batch_id", batch.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
