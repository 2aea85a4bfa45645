package receipt

import "time"

// Status is a receipt's position in the processing lifecycle.
type Status string

const (
	// StatusPending means the receipt is uploaded and waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker holds the receipt and extraction is
	// under way.
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal: extraction and reconciliation succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: the job failed and ErrorMessage says why.
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the four lifecycle values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Receipt is an uploaded image plus its processing lifecycle record. Status
// is owned by the store: nothing mutates it except Transition and
// CompleteWithExpenses.
type Receipt struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"` // Original upload name, display only
	ContentType  string     `json:"content_type"`
	StoredPath   string     `json:"stored_path"` // Key in the image store
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ItemCount    int        `json:"item_count"` // Expenses reconciled, set on completion
	UploadedAt   time.Time  `json:"uploaded_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}
