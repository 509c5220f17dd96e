package transport

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BucketOpener opens a bucket from a Go CDK bucket URL.
type BucketOpener func(ctx context.Context, bucketURL string) (*blob.Bucket, error)

// BlobBackend downloads objects from any storage service registered with
// gocloud.dev/blob (file://, s3://, gs://, azblob:// ...). Drivers are linked in
// by blank imports in the binary.
type BlobBackend struct {
	mux    *blob.URLMux
	open   BucketOpener
	copier progressCopier
}

// NewBlobBackend creates a blob backend over the default URL mux.
func NewBlobBackend(opts Options) *BlobBackend {
	opts = opts.withDefaults()
	mux := blob.DefaultURLMux()
	return &BlobBackend{
		mux:    mux,
		open:   mux.OpenBucket,
		copier: newProgressCopier(opts),
	}
}

// Kind returns KindBlob.
func (b *BlobBackend) Kind() Kind { return KindBlob }

// Accepts reports whether rawURL uses a scheme with a registered bucket driver.
func (b *BlobBackend) Accepts(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Scheme == "http" || u.Scheme == "https" {
		return false
	}
	return b.mux.ValidBucketScheme(u.Scheme)
}

// CheckAvailable reports whether the object exists.
func (b *BlobBackend) CheckAvailable(ctx context.Context, rawURL string) error {
	bucket, key, err := b.openObject(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = bucket.Close() }()

	ok, err := bucket.Exists(ctx, key)
	if err != nil {
		return errors.Wrapf(errors.ErrSourceUnavailable, "blob %s: %v", redact(rawURL), err)
	}
	if !ok {
		return errors.Wrapf(ErrNotFound, "blob %s", redact(rawURL))
	}
	return nil
}

// ResolveFilename returns the base name of the object key.
func (b *BlobBackend) ResolveFilename(_ context.Context, rawURL string) string {
	_, key, err := splitBlobURL(rawURL)
	if err != nil {
		return ""
	}
	return fsutil.SanitizeFilename(path.Base(key))
}

// Download copies the object into dst.
func (b *BlobBackend) Download(ctx context.Context, rawURL string, dst io.Writer, fn ProgressFunc) error {
	bucket, key, err := b.openObject(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = bucket.Close() }()

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return errors.Wrapf(ErrNotFound, "blob %s", redact(rawURL))
		}
		return errors.Wrapf(errors.ErrDownloadFailed, "blob %s: %v", redact(rawURL), err)
	}
	defer func() { _ = r.Close() }()

	_, err = b.copier.copy(ctx, dst, r, r.Size(), fn)
	return err
}

func (b *BlobBackend) openObject(ctx context.Context, rawURL string) (*blob.Bucket, string, error) {
	bucketURL, key, err := splitBlobURL(rawURL)
	if err != nil {
		return nil, "", err
	}
	bucket, err := b.open(ctx, bucketURL)
	if err != nil {
		return nil, "", errors.Wrapf(errors.ErrSourceUnavailable, "failed to open bucket %s: %v", redact(bucketURL), err)
	}
	return bucket, key, nil
}

// splitBlobURL turns an object URL into a bucket URL and a key. file:// URLs
// open the containing directory; other schemes keep host and query as the
// bucket and use the path as the key.
func splitBlobURL(rawURL string) (bucketURL, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrapf(errors.ErrInvalidPath, "invalid object URL: %v", err)
	}
	if u.Scheme == "file" {
		dir, name := path.Split(u.Path)
		if name == "" {
			return "", "", errors.Wrapf(errors.ErrInvalidPath, "object URL has no file name: %s", rawURL)
		}
		return "file://" + dir, name, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Wrapf(errors.ErrInvalidPath, "object URL has no key: %s", redact(rawURL))
	}
	bucket := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return bucket.String(), key, nil
}
