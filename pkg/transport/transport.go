// Package transport implements the remote sources mofetch can download from.
//
// Every source is a Backend. A Registry picks the first backend that accepts a
// URL, in a fixed priority order, so specialised hosts are matched before the
// generic HTTP fallback.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/glorpus-work/mofetch/pkg/auth"
)

// Kind tags a backend variant.
type Kind string

// Backend kinds, in default registry order.
const (
	KindGDrive Kind = "gdrive"
	KindBlob   Kind = "blob"
	KindHTTP   Kind = "http"
)

// Classified failures reported by CheckAvailable.
var (
	ErrNotFound     = fmt.Errorf("resource not found")
	ErrUnauthorized = fmt.Errorf("authentication required")
	ErrForbidden    = fmt.Errorf("access forbidden")
	ErrServerError  = fmt.Errorf("remote server error")
)

// Backend fetches artifacts from one family of remote sources.
type Backend interface {
	// Kind identifies the variant.
	Kind() Kind

	// Accepts reports whether rawURL belongs to this backend. It performs no I/O.
	Accepts(rawURL string) bool

	// CheckAvailable probes rawURL. A nil error means the resource is reachable;
	// otherwise the error describes why it is not.
	CheckAvailable(ctx context.Context, rawURL string) error

	// ResolveFilename returns the name the source suggests for rawURL, or ""
	// when it has none.
	ResolveFilename(ctx context.Context, rawURL string) string

	// Download streams the resource into dst, reporting progress through fn.
	// It returns ctx.Err() promptly once ctx is cancelled; whatever was already
	// written to dst is left for the caller to discard.
	Download(ctx context.Context, rawURL string, dst io.Writer, fn ProgressFunc) error
}

// ProgressFunc receives transfer progress. It may be nil.
type ProgressFunc func(Progress)

// Progress describes a transfer in flight.
type Progress struct {
	BytesReady int64
	// BytesTotal is -1 when the size is unknown.
	BytesTotal int64
	// Speed in bytes per second since the previous report.
	Speed   float64
	Elapsed time.Duration
}

// Indeterminate reports whether the total size is unknown.
func (p Progress) Indeterminate() bool { return p.BytesTotal < 0 }

// Percent returns the completed share in [0,100]. ok is false when the total is unknown.
func (p Progress) Percent() (pct float64, ok bool) {
	if p.Indeterminate() {
		return 0, false
	}
	if p.BytesTotal == 0 {
		return 100, true
	}
	pct = float64(p.BytesReady) * 100 / float64(p.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// Default option values.
const (
	DefaultChunkSize = 256 << 10
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "mofetch/1.0"
)

// Options configures the default backends.
type Options struct {
	// Timeout bounds dialing, waiting for response headers and each body read.
	Timeout   time.Duration
	UserAgent string
	// Auth is consulted per request host by the HTTP-family backends.
	Auth auth.HostMap
	// ProgressInterval is the minimum spacing of progress callbacks; 0 reports every chunk.
	ProgressInterval time.Duration
	ChunkSize        int
	// Client replaces the HTTP client built from Timeout.
	Client *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Client == nil {
		o.Client = newHTTPClient(o.Timeout)
	}
	return o
}

// newHTTPClient builds a client whose timeout covers connection setup and
// response headers only, so long bodies are not cut off mid-transfer.
func newHTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: tr}
}
