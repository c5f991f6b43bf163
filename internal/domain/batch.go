package domain

import "time"

// BatchStatus enumerates batch lifecycle milestones.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchScheduled BatchStatus = "scheduled"
	BatchRemoving  BatchStatus = "removing"
	BatchRemoved   BatchStatus = "removed"
	BatchUploading BatchStatus = "uploading"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

func (s BatchStatus) String() string { return string(s) }

// IsValid reports whether s is a known batch status.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchPending, BatchScheduled, BatchRemoving, BatchRemoved, BatchUploading, BatchCompleted, BatchFailed:
		return true
	}
	return false
}

// Executable reports whether a batch in this status may be started.
func (s BatchStatus) Executable() bool {
	return s == BatchPending || s == BatchScheduled
}

// Retryable reports whether failed items of a batch in this status may be retried.
func (s BatchStatus) Retryable() bool {
	return s == BatchCompleted || s == BatchFailed
}

// ItemStatus enumerates per-item lifecycle milestones.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRemoving  ItemStatus = "removing"
	ItemRemoved   ItemStatus = "removed"
	ItemUploading ItemStatus = "uploading"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// StepStatus tracks a single phase (remove or upload) of an item.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Batch groups listings that are re-advertised together in one run.
type Batch struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         BatchStatus `json:"status"`
	TotalCount     int         `json:"totalCount"`
	CompletedCount int         `json:"completedCount"`
	FailedCount    int         `json:"failedCount"`
	ScheduledAt    *time.Time  `json:"scheduledAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
}

// BatchItem is one listing inside a batch.
type BatchItem struct {
	ID                string     `json:"id"`
	BatchID           string     `json:"batchId"`
	ListingID         string     `json:"listingId"`
	Position          int        `json:"position"`
	Status            ItemStatus `json:"status"`
	RemoveStatus      StepStatus `json:"removeStatus"`
	UploadStatus      StepStatus `json:"uploadStatus"`
	ModifiedPrice     *int64     `json:"modifiedPrice,omitempty"`
	ModifiedRent      *int64     `json:"modifiedRent,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	RetryCount        int        `json:"retryCount"`
	RemoveStartedAt   *time.Time `json:"removeStartedAt,omitempty"`
	RemoveCompletedAt *time.Time `json:"removeCompletedAt,omitempty"`
	UploadStartedAt   *time.Time `json:"uploadStartedAt,omitempty"`
	UploadCompletedAt *time.Time `json:"uploadCompletedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// PriceOverride carries the optional new price/rent (10k-currency units) applied on re-upload.
type PriceOverride struct {
	Price *int64 `json:"price,omitempty"`
	Rent  *int64 `json:"rent,omitempty"`
}

// BatchDetail is a batch together with its items in creation order.
type BatchDetail struct {
	Batch Batch       `json:"batch"`
	Items []BatchItem `json:"items"`
	// Stranded lists listings that were taken down but never re-uploaded.
	Stranded []string `json:"strandedListingIds,omitempty"`
}

// NewBatchDetail pairs a batch with its items and derives the stranded listings.
func NewBatchDetail(batch Batch, items []BatchItem) BatchDetail {
	return BatchDetail{Batch: batch, Items: items, Stranded: StrandedListingIDs(items)}
}

// StrandedListingIDs returns the listings of items left removed, in item order.
func StrandedListingIDs(items []BatchItem) []string {
	var out []string
	for _, item := range items {
		if item.Status == ItemRemoved {
			out = append(out, item.ListingID)
		}
	}
	return out
}

// ItemResult is the tagged outcome of one adapter operation on one item.
type ItemResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded() ItemResult { return ItemResult{Success: true} }

// Failed builds a recoverable per-item failure.
func Failed(msg string) ItemResult { return ItemResult{Success: false, Error: msg} }

// ProgressEvent describes one item transition during a run.
type ProgressEvent struct {
	BatchID string     `json:"batchId"`
	Phase   string     `json:"phase"`
	Current int        `json:"current"`
	Total   int        `json:"total"`
	Item    BatchItem  `json:"item"`
	Result  ItemResult `json:"result"`
	At      time.Time  `json:"at"`
}
