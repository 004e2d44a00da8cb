package models

// Values exchanged on the progress stream.
const (
	ActionStartFetching = "start_fetching"
	StatusProcessing    = "processing"
	StatusComplete      = "complete"
)

// StartDirective is the only message an observer sends on the stream.
type StartDirective struct {
	Action string `json:"action"`
}

// ProgressUpdate is a single message pushed from the producer to observers.
// Every field is optional; observers apply whichever are present.
type ProgressUpdate struct {
	Status          string `json:"status,omitempty"` // "processing" or "complete"
	Progress        *int   `json:"progress,omitempty"`
	TotalEmails     *int   `json:"total_emails,omitempty"`
	ProcessedEmails *int   `json:"processed_emails,omitempty"`
	Account         string `json:"account,omitempty"`
	Email           *Email `json:"email,omitempty"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SnapshotResponse is the body of GET /api/processed_emails/.
type SnapshotResponse struct {
	Emails          []Email `json:"emails"`
	TotalEmails     int     `json:"total_emails"`
	ProcessedEmails int     `json:"processed_emails"`
}

// IntPtr is a small helper for building optional counters.
func IntPtr(v int) *int {
	return &v
}
