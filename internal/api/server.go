package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"AdRelister/internal/domain"
	"AdRelister/internal/usecase"
)

// BatchService is the batch surface the API drives.
type BatchService interface {
	CreateBatch(ctx context.Context, in usecase.CreateBatchInput) (domain.BatchDetail, error)
	ExecuteBatch(ctx context.Context, id string, progress usecase.ProgressFunc) error
	RetryBatch(ctx context.Context, id string, progress usecase.ProgressFunc) error
	GetAllBatches(ctx context.Context) ([]domain.Batch, error)
	GetBatchDetail(ctx context.Context, id string) (domain.BatchDetail, error)
	DeleteBatch(ctx context.Context, id string) error
}

// RankingService computes competitive analyses.
type RankingService interface {
	AnalyzeRanking(ctx context.Context, req usecase.RankingRequest) (domain.RankingAnalysis, error)
}

// Server exposes batch and ranking operations over JSON.
type Server struct {
	batches BatchService
	ranking RankingService
	logger  *slog.Logger
	router  *mux.Router

	runs sync.WaitGroup
}

// NewServer registers every route.
func NewServer(batches BatchService, ranking RankingService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{batches: batches, ranking: ranking, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	b := r.PathPrefix("/api/batches").Subrouter()
	b.HandleFunc("", s.handleListBatches).Methods(http.MethodGet)
	b.HandleFunc("", s.handleCreateBatch).Methods(http.MethodPost)
	b.HandleFunc("/{id}", s.handleGetBatch).Methods(http.MethodGet)
	b.HandleFunc("/{id}", s.handleDeleteBatch).Methods(http.MethodDelete)
	b.HandleFunc("/{id}/execute", s.handleExecute).Methods(http.MethodPost)
	b.HandleFunc("/{id}/retry", s.handleRetry).Methods(http.MethodPost)

	r.HandleFunc("/api/ranking", s.handleRanking).Methods(http.MethodPost)

	r.Use(s.logRequests)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background runs started by the API finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type createBatchRequest struct {
	Name        string                          `json:"name"`
	ListingIDs  []string                        `json:"listingIds"`
	Overrides   map[string]domain.PriceOverride `json:"overrides"`
	ScheduledAt *time.Time                      `json:"scheduledAt"`
}

type rankingRequest struct {
	RepresentativeID string           `json:"representativeId"`
	MyArticleID      string           `json:"myArticleId"`
	PriceOverride    *string          `json:"priceOverride"`
	Articles         []domain.Article `json:"articles"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.batches.GetAllBatches(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if batches == nil {
		batches = []domain.Batch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	detail, err := s.batches.CreateBatch(r.Context(), usecase.CreateBatchInput{
		Name:        req.Name,
		ListingIDs:  req.ListingIDs,
		Overrides:   req.Overrides,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	detail, err := s.batches.GetBatchDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.DeleteBatch(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := s.batches.GetBatchDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !detail.Batch.Status.Executable() {
		s.writeError(w, &domain.InvalidStateError{BatchID: id, Operation: "execute", Status: detail.Batch.Status})
		return
	}
	s.startRun(w, r, id, "execute", s.batches.ExecuteBatch)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	detail, err := s.batches.GetBatchDetail(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !detail.Batch.Status.Retryable() {
		s.writeError(w, &domain.InvalidStateError{BatchID: id, Operation: "retry", Status: detail.Batch.Status})
		return
	}
	if !hasFailedItems(detail.Items) {
		s.writeError(w, &domain.NoRetryableItemsError{BatchID: id})
		return
	}
	s.startRun(w, r, id, "retry", s.batches.RetryBatch)
}

type runFunc func(ctx context.Context, id string, progress usecase.ProgressFunc) error

// startRun executes synchronously with ?wait=true; otherwise it answers 202 and runs in the
// background, detached from the request's cancellation.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, id, op string, run runFunc) {
	logger := s.logger.With("batch_id", id, "operation", op)
	progress := func(current, total int, item domain.BatchItem, result domain.ItemResult) error {
		logger.Debug("batch progress", "current", current, "total", total, "item_id", item.ID, "success", result.Success)
		return nil
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := run(r.Context(), id, progress); err != nil {
			s.writeError(w, err)
			return
		}
		detail, err := s.batches.GetBatchDetail(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := run(ctx, id, progress); err != nil {
			logger.Error("background run failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"batchId": id, "status": "started"})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	var req rankingRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	analysis, err := s.ranking.AnalyzeRanking(r.Context(), usecase.RankingRequest{
		RepresentativeID: req.RepresentativeID,
		MyArticleID:      req.MyArticleID,
		PriceOverride:    req.PriceOverride,
		Articles:         req.Articles,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNoRetryableItems),
		errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrFatalSession):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func hasFailedItems(items []domain.BatchItem) bool {
	for _, item := range items {
		if item.Status == domain.ItemFailed {
			return true
		}
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Reason: strings.TrimPrefix(err.Error(), "json: ")}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
