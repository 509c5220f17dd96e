package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPercent(t *testing.T) {
	pct, ok := Progress{BytesReady: 50, BytesTotal: 200}.Percent()
	require.True(t, ok)
	assert.InDelta(t, 25.0, pct, 0.001)

	_, ok = Progress{BytesReady: 50, BytesTotal: -1}.Percent()
	assert.False(t, ok)
	assert.True(t, Progress{BytesTotal: -1}.Indeterminate())

	pct, ok = Progress{BytesTotal: 0}.Percent()
	require.True(t, ok)
	assert.Equal(t, 100.0, pct)
}

func TestProgressCopierReportsEveryChunkWithoutInterval(t *testing.T) {
	src := strings.Repeat("x", 10)
	var dst bytes.Buffer
	var reports []Progress

	c := progressCopier{chunkSize: 4}
	n, err := c.copy(context.Background(), &dst, strings.NewReader(src), int64(len(src)), func(p Progress) {
		reports = append(reports, p)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, src, dst.String())
	require.NotEmpty(t, reports)
	// chunks of 4, 4, 2 plus the final report at EOF
	assert.Len(t, reports, 4)
	last := reports[len(reports)-1]
	assert.Equal(t, int64(10), last.BytesReady)
	assert.Equal(t, int64(10), last.BytesTotal)
}

func TestProgressCopierThrottlesButAlwaysReportsFinal(t *testing.T) {
	src := strings.Repeat("y", 1000)
	var reports []Progress

	c := progressCopier{chunkSize: 10, interval: time.Hour}
	_, err := c.copy(context.Background(), &bytes.Buffer{}, iotest.OneByteReader(strings.NewReader(src)), -1, func(p Progress) {
		reports = append(reports, p)
	})

	require.NoError(t, err)
	// the first chunk passes the throttle, then only the final report
	require.Len(t, reports, 2)
	assert.Equal(t, int64(1000), reports[1].BytesReady)
	assert.True(t, reports[1].Indeterminate())
}

type cancelAfterRead struct {
	cancel context.CancelFunc
	reads  int
}

func (r *cancelAfterRead) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == 1 {
		r.cancel()
	}
	return copy(p, "abcd"), nil
}

func TestProgressCopierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancelAfterRead{cancel: cancel}
	var dst bytes.Buffer
	n, err := progressCopier{chunkSize: 4}.copy(ctx, &dst, src, -1, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 1, src.reads)
}

type steppedClock struct {
	now time.Time
}

func (c *steppedClock) Now() time.Time { return c.now }

// steppedReader advances the clock by the next step before every read.
type steppedReader struct {
	clock *steppedClock
	steps []time.Duration
	chunk string
}

func (r *steppedReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	r.clock.now = r.clock.now.Add(r.steps[0])
	r.steps = r.steps[1:]
	return copy(p, r.chunk), nil
}

func TestProgressCopierReportsSpeedSincePreviousReport(t *testing.T) {
	clock := &steppedClock{now: time.Unix(0, 0)}
	src := &steppedReader{clock: clock, steps: []time.Duration{time.Second, 4 * time.Second}, chunk: "abcd"}
	var reports []Progress

	c := progressCopier{chunkSize: 4, clock: clock.Now}
	_, err := c.copy(context.Background(), &bytes.Buffer{}, src, 8, func(p Progress) {
		reports = append(reports, p)
	})

	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.InDelta(t, 4.0, reports[0].Speed, 0.001)
	assert.InDelta(t, 1.0, reports[1].Speed, 0.001)
	assert.Equal(t, 5*time.Second, reports[1].Elapsed)
	// no time passed before EOF, so the last rate is carried over
	assert.InDelta(t, 1.0, reports[2].Speed, 0.001)
}

// stallingBody hands out one chunk and then blocks until closed.
type stallingBody struct {
	sent   bool
	closed chan struct{}
}

func (b *stallingBody) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "head"), nil
	}
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *stallingBody) Close() error {
	close(b.closed)
	return nil
}

func TestProgressCopierGivesUpOnIdleSource(t *testing.T) {
	src := &stallingBody{closed: make(chan struct{})}
	var dst bytes.Buffer

	c := progressCopier{chunkSize: 16, idle: 50 * time.Millisecond}
	n, err := c.copy(context.Background(), &dst, src, 100, nil)

	require.ErrorIs(t, err, errors.ErrDownloadFailed)
	assert.Contains(t, err.Error(), "no data received")
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "head", dst.String())
}
