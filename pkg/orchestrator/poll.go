package orchestrator

import (
	"context"
	"time"
)

// Polling defaults.
const (
	DefaultPollInterval      = 200 * time.Millisecond
	DefaultFullSnapshotEvery = 20
)

// Source is the read side of a Manager.
type Source interface {
	IsRunning() bool
	State() BatchState
	LatestDelta() BatchState
}

// PollOptions control Poll.
type PollOptions struct {
	Interval time.Duration
	// FullEvery substitutes a full snapshot for the delta on every n-th poll.
	FullEvery int
}

// PollFunc receives one poll result. full is true for cumulative snapshots.
type PollFunc func(state BatchState, full bool)

// Poll calls fn with the latest state of source every Interval until the batch
// is no longer running, then delivers the final full snapshot and returns nil.
// The first delivery is always a full snapshot.
func Poll(ctx context.Context, source Source, opts PollOptions, fn PollFunc) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.FullEvery <= 0 {
		opts.FullEvery = DefaultFullSnapshotEvery
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !source.IsRunning() {
			fn(source.State(), true)
			return nil
		}
		if n%opts.FullEvery == 0 {
			fn(source.State(), true)
		} else {
			fn(source.LatestDelta(), false)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
