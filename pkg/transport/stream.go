package transport

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/glorpus-work/mofetch/pkg/errors"
	"golang.org/x/time/rate"
)

// progressCopier copies a body in chunks, checking for cancellation around
// every chunk and reporting throttled progress.
type progressCopier struct {
	chunkSize int
	interval  time.Duration
	// idle bounds a single read. When it elapses the source is closed and
	// the copy fails. 0 disables the limit.
	idle  time.Duration
	clock func() time.Time
}

func newProgressCopier(opts Options) progressCopier {
	return progressCopier{chunkSize: opts.ChunkSize, interval: opts.ProgressInterval, idle: opts.Timeout}
}

func (c progressCopier) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

// copy moves src into dst. total is -1 when unknown. The final progress is
// always reported, even when the throttle would otherwise drop it.
func (c progressCopier) copy(ctx context.Context, dst io.Writer, src io.Reader, total int64, fn ProgressFunc) (int64, error) {
	size := c.chunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	buf := make([]byte, size)
	start := c.now()
	throttle := rate.Sometimes{Interval: c.interval}

	var written int64
	lastAt, lastBytes := start, int64(0)
	var speed float64
	report := func() {
		if fn == nil {
			return
		}
		now := c.now()
		if dt := now.Sub(lastAt).Seconds(); dt > 0 {
			speed = float64(written-lastBytes) / dt
			lastAt, lastBytes = now, written
		}
		fn(Progress{BytesReady: written, BytesTotal: total, Speed: speed, Elapsed: now.Sub(start)})
	}

	read := src.Read
	var stalled atomic.Bool
	if closer, ok := src.(io.Closer); ok && c.idle > 0 {
		timer := time.AfterFunc(c.idle, func() {
			stalled.Store(true)
			_ = closer.Close()
		})
		timer.Stop()
		defer timer.Stop()
		read = func(p []byte) (int, error) {
			timer.Reset(c.idle)
			n, err := src.Read(p)
			timer.Stop()
			return n, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if stalled.Load() {
			return written, errors.Wrapf(errors.ErrDownloadFailed, "no data received for %s", c.idle)
		}
		if rerr == io.EOF {
			report()
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
		if n > 0 {
			if c.interval <= 0 {
				report()
			} else {
				throttle.Do(report)
			}
		}
	}
}
