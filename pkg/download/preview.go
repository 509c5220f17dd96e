package download

import (
	"fmt"
	"path/filepath"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/glorpus-work/mofetch/pkg/preview"
	"github.com/glorpus-work/mofetch/pkg/transport"
)

// fetchPreview stores the item's preview image next to the model file. Failures
// are reported as PreviewErr and do not affect the item's outcome. It returns
// false when the transfer was cancelled or abandoned.
func (t *transfer) fetchPreview(dir, filename string) bool {
	name := fsutil.ReplaceExtension(filename, preview.Extension)
	dest := filepath.Join(dir, name)
	if !t.emit(Event{PreviewFilename: name, PreviewDestination: dest}) {
		return false
	}

	if t.exists(dest) {
		return true
	}

	err := t.storePreview(dest)
	if t.done() {
		return false
	}
	if err != nil {
		logger.Warn("Preview download failed", logger.Fields{"id": t.item.ID, "url": t.item.PreviewURL, "error": err})
		return t.emit(Event{PreviewErr: err})
	}
	return true
}

func (t *transfer) storePreview(dest string) error {
	backend, err := t.probe(t.item.PreviewURL)
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	rawPath, err := t.fetchToTemp(backend, t.item.PreviewURL, dir, func(p transport.Progress) {
		t.emit(Event{PreviewProgress: &p})
	})
	if err != nil {
		return err
	}
	defer t.discard(rawPath)

	raw, err := t.fs.Open(rawPath)
	if err != nil {
		return fmt.Errorf("failed to reopen preview: %w", err)
	}
	defer func() { _ = raw.Close() }()

	out, err := t.createTemp(dir)
	if err != nil {
		return err
	}
	outPath := out.Name()
	_, err = preview.Normalize(raw, out, t.previewMaxSize)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", outPath, closeErr)
	}
	if err != nil {
		t.discard(outPath)
		return err
	}
	return t.commit(outPath, dest)
}
