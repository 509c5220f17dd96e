package orchestrator

import (
	"time"

	"github.com/glorpus-work/mofetch/pkg/download"
	"github.com/glorpus-work/mofetch/pkg/transport"
)

// ItemState is what pollers see of one item. In a delta, zero-valued fields
// mean "unchanged".
type ItemState struct {
	Status      download.Status     `json:"status,omitempty"`
	Filename    string              `json:"filename,omitempty"`
	Destination string              `json:"destination,omitempty"`
	Progress    *transport.Progress `json:"progress,omitempty"`

	PreviewFilename    string              `json:"preview_filename,omitempty"`
	PreviewDestination string              `json:"preview_destination,omitempty"`
	PreviewProgress    *transport.Progress `json:"preview_progress,omitempty"`

	Error        string `json:"error,omitempty"`
	PreviewError string `json:"preview_error,omitempty"`
	HookError    string `json:"hook_error,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
}

// merge folds ev into s. Status never moves back once terminal.
func (s *ItemState) merge(ev download.Event) {
	if ev.Status != "" && !s.Status.Terminal() {
		s.Status = ev.Status
	}
	if ev.Filename != "" {
		s.Filename = ev.Filename
	}
	if ev.Destination != "" {
		s.Destination = ev.Destination
	}
	if ev.Progress != nil {
		p := *ev.Progress
		s.Progress = &p
	}
	if ev.PreviewFilename != "" {
		s.PreviewFilename = ev.PreviewFilename
	}
	if ev.PreviewDestination != "" {
		s.PreviewDestination = ev.PreviewDestination
	}
	if ev.PreviewProgress != nil {
		p := *ev.PreviewProgress
		s.PreviewProgress = &p
	}
	if ev.Err != nil {
		s.Error = ev.Err.Error()
	}
	if ev.PreviewErr != nil {
		s.PreviewError = ev.PreviewErr.Error()
	}
	if ev.HookErr != nil {
		s.HookError = ev.HookErr.Error()
	}
	if ev.SHA256 != "" {
		s.SHA256 = ev.SHA256
	}
}

// apply folds the non-zero fields of a delta into s.
func (s *ItemState) apply(d ItemState) {
	if d.Status != "" {
		s.Status = d.Status
	}
	if d.Filename != "" {
		s.Filename = d.Filename
	}
	if d.Destination != "" {
		s.Destination = d.Destination
	}
	if d.Progress != nil {
		s.Progress = d.Progress
	}
	if d.PreviewFilename != "" {
		s.PreviewFilename = d.PreviewFilename
	}
	if d.PreviewDestination != "" {
		s.PreviewDestination = d.PreviewDestination
	}
	if d.PreviewProgress != nil {
		s.PreviewProgress = d.PreviewProgress
	}
	if d.Error != "" {
		s.Error = d.Error
	}
	if d.PreviewError != "" {
		s.PreviewError = d.PreviewError
	}
	if d.HookError != "" {
		s.HookError = d.HookError
	}
	if d.SHA256 != "" {
		s.SHA256 = d.SHA256
	}
}

func (s ItemState) clone() ItemState {
	if s.Progress != nil {
		p := *s.Progress
		s.Progress = &p
	}
	if s.PreviewProgress != nil {
		p := *s.PreviewProgress
		s.PreviewProgress = &p
	}
	return s
}

// BatchState is a snapshot of a batch. Items are keyed by record id.
type BatchState struct {
	ID         string              `json:"id,omitempty"`
	Status     download.Status     `json:"status,omitempty"`
	Items      map[int64]ItemState `json:"items"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at,omitzero"`
	FinishedAt time.Time           `json:"finished_at,omitzero"`
}

// Clone returns a deep copy of b.
func (b BatchState) Clone() BatchState {
	items := make(map[int64]ItemState, len(b.Items))
	for id, s := range b.Items {
		items[id] = s.clone()
	}
	b.Items = items
	return b
}

// Apply merges a delta obtained from LatestDelta into b. A delta from a
// different batch replaces b's items entirely.
func (b *BatchState) Apply(delta BatchState) {
	if delta.ID != "" && delta.ID != b.ID {
		*b = BatchState{ID: delta.ID, Items: map[int64]ItemState{}}
	}
	if b.Items == nil {
		b.Items = map[int64]ItemState{}
	}
	if delta.Status != "" {
		b.Status = delta.Status
	}
	if delta.Error != "" {
		b.Error = delta.Error
	}
	if !delta.StartedAt.IsZero() {
		b.StartedAt = delta.StartedAt
	}
	if !delta.FinishedAt.IsZero() {
		b.FinishedAt = delta.FinishedAt
	}
	for id, d := range delta.Items {
		s := b.Items[id]
		s.apply(d.clone())
		b.Items[id] = s
	}
}

// Empty reports whether a delta carries no change.
func (b BatchState) Empty() bool {
	return b.Status == "" && b.Error == "" && len(b.Items) == 0 && b.FinishedAt.IsZero()
}

// Counts tallies items by status.
func (b BatchState) Counts() map[download.Status]int {
	counts := make(map[download.Status]int)
	for _, s := range b.Items {
		counts[s.Status]++
	}
	return counts
}
