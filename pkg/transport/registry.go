package transport

import (
	"github.com/glorpus-work/mofetch/pkg/errors"
)

// Registry dispatches URLs to backends in a fixed priority order.
type Registry struct {
	backends []Backend
}

// NewRegistry creates a registry that consults backends in the given order.
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{backends: backends}
}

// NewDefaultRegistry registers the Google Drive, blob and HTTP backends, in that order.
func NewDefaultRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return NewRegistry(
		NewGDriveBackend(opts),
		NewBlobBackend(opts),
		NewHTTPBackend(opts),
	)
}

// Select returns the first backend accepting rawURL.
func (r *Registry) Select(rawURL string) (Backend, error) {
	for _, b := range r.backends {
		if b.Accepts(rawURL) {
			return b, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrUnhandledURL, "%s", redact(rawURL))
}

// CanHandle reports whether any backend accepts rawURL.
func (r *Registry) CanHandle(rawURL string) bool {
	_, err := r.Select(rawURL)
	return err == nil
}

// Backends returns the registered backends in priority order.
func (r *Registry) Backends() []Backend {
	return append([]Backend(nil), r.backends...)
}
