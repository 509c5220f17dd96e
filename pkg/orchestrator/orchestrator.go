//go:generate mockgen -destination=./mocks/orchestrator.go . Runner

// Package orchestrator runs batches of downloads on a background worker and
// exposes their progress as snapshots for polling callers.
package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/download"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/google/uuid"
)

// Runner produces the event sequence of one item's transfer.
type Runner interface {
	Run(ctx context.Context, item download.Item) iter.Seq[download.Event]
}

// TempCleaner removes staging files left by earlier transfers.
type TempCleaner interface {
	Clear() int
}

// Manager owns at most one running batch at a time.
type Manager struct {
	runner Runner
	temps  TempCleaner

	mutex   sync.RWMutex
	state   BatchState
	delta   BatchState
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates an idle manager. temps may be nil.
func NewManager(runner Runner, temps TempCleaner) *Manager {
	return &Manager{
		runner: runner,
		temps:  temps,
		state:  BatchState{Items: map[int64]ItemState{}},
		delta:  BatchState{Items: map[int64]ItemState{}},
	}
}

// Start launches a worker for items. It returns ErrBatchRunning, leaving the
// running batch untouched, when a batch is already in progress. Cancelling ctx
// stops the batch like Stop does.
func (m *Manager) Start(ctx context.Context, items []download.Item) error {
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			return errors.Wrapf(errors.ErrDuplicateItem, "id %d", item.ID)
		}
		seen[item.ID] = struct{}{}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.running {
		logger.Warn("Download batch already running, ignoring start request", logger.Fields{"batch": m.state.ID})
		return errors.ErrBatchRunning
	}

	state := BatchState{
		ID:        uuid.NewString(),
		Status:    download.StatusInProgress,
		Items:     make(map[int64]ItemState, len(items)),
		StartedAt: time.Now(),
	}
	for _, item := range items {
		state.Items[item.ID] = ItemState{Status: download.StatusPending}
	}
	m.state = state
	m.delta = state.Clone()

	batchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done

	logger.Debug("Starting download batch", logger.Fields{"batch": state.ID, "items": len(items)})
	go m.work(batchCtx, cancel, done, items)
	return nil
}

// Stop cancels the running batch and blocks until its worker has exited. No
// state changes after Stop returns.
func (m *Manager) Stop() {
	m.mutex.RLock()
	running, cancel, done := m.running, m.cancel, m.done
	m.mutex.RUnlock()

	if !running {
		logger.Warn("No download batch is running")
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current worker, if any, has exited.
func (m *Manager) Wait() {
	m.mutex.RLock()
	done := m.done
	m.mutex.RUnlock()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether a batch is in progress.
func (m *Manager) IsRunning() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.running
}

// State returns a deep copy of the cumulative batch state.
func (m *Manager) State() BatchState {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state.Clone()
}

// LatestDelta returns the changes made since the previous call and resets the
// accumulator.
func (m *Manager) LatestDelta() BatchState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	d := m.delta
	m.delta = BatchState{ID: m.state.ID, Items: map[int64]ItemState{}}
	return d
}

func (m *Manager) work(ctx context.Context, cancel context.CancelFunc, done chan struct{}, items []download.Item) {
	defer close(done)
	defer cancel()

	var batchErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Download batch panicked", logger.Fields{"panic": r})
				batchErr = fmt.Errorf("unexpected failure: %v", r)
			}
		}()
		m.clearTemps()
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			m.runItem(ctx, item)
		}
	}()
	m.clearTemps()
	m.finish(ctx.Err() != nil, batchErr)
}

func (m *Manager) runItem(ctx context.Context, item download.Item) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Download panicked", logger.Fields{"id": item.ID, "panic": r})
			m.apply(item.ID, download.Event{Status: download.StatusError, Err: fmt.Errorf("unexpected failure: %v", r)})
		}
	}()

	for ev := range m.runner.Run(ctx, item) {
		m.apply(item.ID, ev)
		if ev.Err != nil {
			logger.Error("Download failed", logger.Fields{"id": item.ID, "error": ev.Err})
		}
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() == nil && !m.itemStatus(item.ID).Terminal() {
		m.apply(item.ID, download.Event{Status: download.StatusError, Err: fmt.Errorf("transfer ended without a result")})
	}
}

func (m *Manager) apply(id int64, ev download.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.state.Items[id]
	s.merge(ev)
	m.state.Items[id] = s

	d := m.delta.Items[id]
	d.merge(ev)
	if ev.Status != "" {
		d.Status = s.Status
	}
	m.delta.Items[id] = d
}

func (m *Manager) itemStatus(id int64) download.Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.state.Items[id].Status
}

// finish settles every unfinished item and the batch status.
func (m *Manager) finish(cancelled bool, batchErr error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	failed := false
	for id, s := range m.state.Items {
		if !s.Status.Terminal() {
			s.Status = download.StatusCancelled
			m.state.Items[id] = s
			d := m.delta.Items[id]
			d.Status = download.StatusCancelled
			m.delta.Items[id] = d
		}
		if s.Status == download.StatusError {
			failed = true
		}
	}

	status := download.StatusCompleted
	switch {
	case batchErr != nil:
		status = download.StatusError
		m.state.Error = batchErr.Error()
		m.delta.Error = m.state.Error
	case failed:
		status = download.StatusError
	case cancelled:
		status = download.StatusCancelled
	}
	m.state.Status = status
	m.state.FinishedAt = time.Now()
	m.delta.Status = status
	m.delta.FinishedAt = m.state.FinishedAt
	m.running = false

	counts := m.state.Counts()
	logger.Info("Download batch finished", logger.Fields{
		"batch":     m.state.ID,
		"status":    status,
		"completed": counts[download.StatusCompleted],
		"exists":    counts[download.StatusExists],
		"errors":    counts[download.StatusError],
		"cancelled": counts[download.StatusCancelled],
	})
}

func (m *Manager) clearTemps() {
	if m.temps == nil {
		return
	}
	if n := m.temps.Clear(); n > 0 {
		logger.Debug("Removed leftover temporary files", logger.Fields{"count": n})
	}
}
