package transport

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/glorpus-work/mofetch/pkg/auth"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
)

// HTTPBackend downloads plain http and https URLs. It accepts any such URL and
// is registered last.
type HTTPBackend struct {
	client    *http.Client
	userAgent string
	auth      auth.HostMap
	copier    progressCopier
}

// NewHTTPBackend creates the generic HTTP backend.
func NewHTTPBackend(opts Options) *HTTPBackend {
	opts = opts.withDefaults()
	return &HTTPBackend{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		auth:      opts.Auth,
		copier:    newProgressCopier(opts),
	}
}

// Kind returns KindHTTP.
func (b *HTTPBackend) Kind() Kind { return KindHTTP }

// Accepts reports whether rawURL is an absolute http(s) URL.
func (b *HTTPBackend) Accepts(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// CheckAvailable probes rawURL with HEAD, falling back to a one-byte ranged GET
// for servers that reject HEAD.
func (b *HTTPBackend) CheckAvailable(ctx context.Context, rawURL string) error {
	resp, err := b.probe(ctx, rawURL)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return classifyStatus(resp)
}

// ResolveFilename reads the name from Content-Disposition, or from the last
// segment of the URL the request was redirected to.
func (b *HTTPBackend) ResolveFilename(ctx context.Context, rawURL string) string {
	resp, err := b.probe(ctx, rawURL)
	if err != nil {
		return ""
	}
	_ = resp.Body.Close()
	if classifyStatus(resp) != nil {
		return ""
	}
	return filenameFromResponse(resp)
}

// Download streams rawURL into dst.
func (b *HTTPBackend) Download(ctx context.Context, rawURL string, dst io.Writer, fn ProgressFunc) error {
	resp, err := b.do(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		return errors.Wrap(errors.ErrDownloadFailed, err.Error())
	}

	_, err = b.copier.copy(ctx, dst, resp.Body, contentLength(resp), fn)
	return err
}

func (b *HTTPBackend) probe(ctx context.Context, rawURL string) (*http.Response, error) {
	resp, err := b.do(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	// pre-signed object URLs are often signed for GET only and refuse HEAD
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
	default:
		return resp, nil
	}
	_ = resp.Body.Close()
	return b.do(ctx, http.MethodGet, rawURL, http.Header{"Range": []string{"bytes=0-0"}})
}

func (b *HTTPBackend) do(ctx context.Context, method, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", b.userAgent)
	if err := b.auth.Apply(req); err != nil {
		return nil, errors.Wrap(err, "failed to apply credentials")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(errors.ErrSourceUnavailable, "%s %s: %v", method, redact(rawURL), err)
	}
	return resp, nil
}

// classifyStatus maps an HTTP status to nil or one of the classified errors.
func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: HTTP %d", ErrNotFound, code)
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, code)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrForbidden, code)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: unexpected HTTP %d", errors.ErrSourceUnavailable, code)
	}
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength < 0 {
		return -1
	}
	return resp.ContentLength
}

func filenameFromResponse(resp *http.Response) string {
	if name := filenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
		return name
	}
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	name := path.Base(resp.Request.URL.Path)
	if name == "/" || name == "." {
		return ""
	}
	return fsutil.SanitizeFilename(name)
}

// filenameFromDisposition extracts the filename parameter, preferring the
// RFC 5987 filename* form which mime decodes transparently.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return fsutil.SanitizeFilename(params["filename"])
}

// redact strips the query string, which often carries signed tokens.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.RawQuery != "" {
		u.RawQuery = "..."
	}
	u.User = nil
	return strings.TrimSpace(u.String())
}
