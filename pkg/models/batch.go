package models

// BatchStatus is the provider-reported state of a submitted batch
type BatchStatus string

const (
	BatchValidating BatchStatus = "validating"
	BatchInProgress BatchStatus = "in_progress"
	BatchFinalizing BatchStatus = "finalizing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelling BatchStatus = "cancelling"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further status change is expected
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// RequestCounts mirrors the provider's per-batch request tally
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// BatchInfo maps one request file to its provider batch handle
type BatchInfo struct {
	BatchFile     string        `json:"batch_file"`
	BatchID       string        `json:"batch_id"`
	FileID        string        `json:"file_id"`
	Status        BatchStatus   `json:"status"`
	CreatedAt     int64         `json:"created_at,omitempty"`
	RequestCounts RequestCounts `json:"request_counts"`
	OutputFileID  string        `json:"output_file_id,omitempty"`
	ErrorFileID   string        `json:"error_file_id,omitempty"`
}
