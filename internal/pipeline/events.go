package pipeline

import "time"

// Operation names an entry operation of the pipeline.
type Operation string

// Entry operations.
const (
	OpDiscover  Operation = "discover"
	OpExtract   Operation = "extract"
	OpNormalize Operation = "normalize"
)

// Status is the outcome of an entry operation.
type Status string

// Operation outcomes.
const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Event is published after every entry operation.
type Event struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Operation   Operation `json:"operation"`
	Status      Status    `json:"status"`
	Links       int       `json:"links,omitempty"`
	Final       int       `json:"final,omitempty"`
	Unprocessed int       `json:"unprocessed,omitempty"`
	Rows        int       `json:"rows,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Attributes are attached to broker messages for filtering.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"run_id":    e.RunID,
		"operation": string(e.Operation),
		"status":    string(e.Status),
	}
}
