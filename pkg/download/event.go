package download

import "github.com/glorpus-work/mofetch/pkg/transport"

// Status is the lifecycle state of one item, as shown to pollers.
type Status string

// Item statuses. Batch statuses reuse InProgress, Completed, Error and Cancelled.
const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusExists     Status = "Exists"
	StatusError      Status = "Error"
	StatusCancelled  Status = "Cancelled"
)

// Terminal reports whether s ends an item's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExists, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Event is one update produced by a transfer. Zero-valued fields carry no change.
type Event struct {
	Status      Status
	Filename    string
	Destination string
	Progress    *transport.Progress

	PreviewFilename    string
	PreviewDestination string
	PreviewProgress    *transport.Progress

	// Err ends the item with StatusError.
	Err error
	// PreviewErr and HookErr are informational; the item still completes.
	PreviewErr error
	HookErr    error

	SHA256 string
}
