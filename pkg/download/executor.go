package download

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/glorpus-work/mofetch/pkg/hook"
	"github.com/glorpus-work/mofetch/pkg/transport"
	"github.com/spf13/afero"
)

// Options configure an Executor.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs       afero.Fs
	Backends BackendSelector
	Store    RecordStore
	Dirs     DirResolver
	// Temps defaults to a fresh registry over Fs.
	Temps *TempRegistry
	// Hooks may be nil.
	Hooks HookRunner

	PreviewEnabled bool
	PreviewMaxSize int
}

// Executor drives single items through their download lifecycle.
type Executor struct {
	fs       afero.Fs
	backends BackendSelector
	store    RecordStore
	dirs     DirResolver
	temps    *TempRegistry
	hooks    HookRunner

	previewEnabled bool
	previewMaxSize int
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) *Executor {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Temps == nil {
		opts.Temps = NewTempRegistry(opts.Fs)
	}
	return &Executor{
		fs:             opts.Fs,
		backends:       opts.Backends,
		store:          opts.Store,
		dirs:           opts.Dirs,
		temps:          opts.Temps,
		hooks:          opts.Hooks,
		previewEnabled: opts.PreviewEnabled,
		previewMaxSize: opts.PreviewMaxSize,
	}
}

// TempFiles returns the registry of staging files created by this executor.
func (e *Executor) TempFiles() *TempRegistry { return e.temps }

// Run returns the event sequence of one item's transfer. The sequence is
// finite and can be ranged over once. It ends with a terminal status unless ctx
// is cancelled or the consumer stops early, in which case staging files are
// removed and no terminal status is produced.
func (e *Executor) Run(ctx context.Context, item Item) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		t := &transfer{Executor: e, ctx: ctx, cancel: cancel, item: item, yield: yield}
		defer t.recoverPanic()
		t.run()
	}
}

// transfer is the state of one Run.
type transfer struct {
	*Executor
	ctx    context.Context
	cancel context.CancelFunc
	item   Item
	yield  func(Event) bool

	stopped bool // consumer is gone
	inYield bool
}

// emit forwards ev unless the consumer has stopped. It returns false once the
// transfer must end.
func (t *transfer) emit(ev Event) bool {
	if t.stopped {
		return false
	}
	t.inYield = true
	ok := t.yield(ev)
	t.inYield = false
	if !ok {
		t.stopped = true
		t.cancel()
	}
	return ok
}

// fail ends the transfer with an Error status.
func (t *transfer) fail(err error) {
	t.emit(Event{Status: StatusError, Err: err})
}

// done reports whether the transfer was cancelled or abandoned.
func (t *transfer) done() bool {
	return t.stopped || t.ctx.Err() != nil
}

func (t *transfer) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	if t.inYield {
		panic(r)
	}
	logger.Error("Transfer panicked", logger.Fields{"id": t.item.ID, "panic": r})
	t.fail(fmt.Errorf("unexpected failure: %v", r))
}

func (t *transfer) run() {
	if !t.emit(Event{Status: StatusInProgress}) {
		return
	}

	if name := t.staticFilename(); name != "" {
		if dir, err := t.destinationDir(false); err == nil {
			dest := filepath.Join(dir, name)
			if t.exists(dest) {
				t.emit(Event{Filename: name, Destination: dest, Status: StatusExists})
				return
			}
		}
	}

	backend, sourceURL, err := t.selectAvailable()
	if t.done() {
		return
	}
	if err != nil {
		t.fail(err)
		return
	}

	filename := t.resolveFilename(backend, sourceURL)
	dir, err := t.destinationDir(true)
	if err != nil {
		t.fail(err)
		return
	}
	dest := filepath.Join(dir, filename)
	if !t.emit(Event{Filename: filename, Destination: dest}) {
		return
	}

	if t.exists(dest) {
		t.emit(Event{Status: StatusExists})
		return
	}

	digests, err := t.stage(backend, sourceURL, dest)
	if t.done() {
		return
	}
	if err != nil {
		t.fail(err)
		return
	}

	if t.item.PreviewURL != "" && t.previewEnabled {
		if !t.fetchPreview(dir, filename) {
			return
		}
	}

	final := Event{Status: StatusCompleted, SHA256: digests.SHA256}
	if err := t.runHook(dest, digests); err != nil {
		final.HookErr = err
	}
	if t.done() {
		return
	}
	t.emit(final)
}

// staticFilename is the name known without asking any backend. A name taken
// from the primary URL is not trusted when a backup could supply another one.
func (t *transfer) staticFilename() string {
	if name := fsutil.SanitizeFilename(t.item.Filename); name != "" {
		return name
	}
	if t.item.BackupURL != "" {
		return ""
	}
	return fsutil.FilenameFromURL(t.item.URL)
}

// selectAvailable probes the primary URL and, if that fails, the backup URL.
func (t *transfer) selectAvailable() (transport.Backend, string, error) {
	backend, err := t.probe(t.item.URL)
	if err == nil {
		return backend, t.item.URL, nil
	}
	if t.item.BackupURL == "" || t.done() {
		return nil, "", err
	}

	logger.Warn("Primary source unavailable, trying backup", logger.Fields{"id": t.item.ID, "error": err})
	backupBackend, backupErr := t.probe(t.item.BackupURL)
	if backupErr != nil {
		return nil, "", fmt.Errorf("primary: %w; backup: %w", err, backupErr)
	}
	return backupBackend, t.item.BackupURL, nil
}

func (t *transfer) probe(rawURL string) (transport.Backend, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: no download URL", errors.ErrSourceUnavailable)
	}
	backend, err := t.backends.Select(rawURL)
	if err != nil {
		return nil, err
	}
	if err := backend.CheckAvailable(t.ctx, rawURL); err != nil {
		return nil, err
	}
	return backend, nil
}

// resolveFilename applies the naming priority: explicit name, URL path with an
// extension, backend suggestion, then the item id.
func (t *transfer) resolveFilename(backend transport.Backend, sourceURL string) string {
	if name := fsutil.SanitizeFilename(t.item.Filename); name != "" {
		return name
	}
	if name := fsutil.FilenameFromURL(sourceURL); name != "" {
		return name
	}
	if name := fsutil.SanitizeFilename(backend.ResolveFilename(t.ctx, sourceURL)); name != "" {
		return name
	}
	return strconv.FormatInt(t.item.ID, 10)
}

// destinationDir computes the target directory, creating it when create is set.
func (t *transfer) destinationDir(create bool) (string, error) {
	root := t.item.DownloadPath
	if root == "" {
		if t.dirs == nil {
			return "", errors.ErrDestinationUndefined
		}
		var err error
		if root, err = t.dirs.ModelDir(t.item.Type); err != nil {
			return "", err
		}
	}
	if root == "" {
		return "", errors.ErrDestinationUndefined
	}

	dir := filepath.Clean(root)
	if sub := strings.TrimSpace(t.item.Subdir); sub != "" {
		if filepath.IsAbs(sub) {
			return "", fmt.Errorf("%w: subdirectory %q must be relative", errors.ErrInvalidPath, sub)
		}
		joined := filepath.Join(dir, sub)
		if rel, err := filepath.Rel(dir, joined); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: subdirectory %q leaves %s", errors.ErrInvalidPath, sub, dir)
		}
		dir = joined
	}

	if create {
		if err := t.fs.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
			return "", fmt.Errorf("failed to create destination directory %s: %w", dir, err)
		}
	}
	return dir, nil
}

func (t *transfer) exists(path string) bool {
	_, err := t.fs.Stat(path)
	return err == nil
}

// stage downloads into a temporary file next to dest, renames it into place,
// normalises permissions, hashes the result and records it in the store.
func (t *transfer) stage(backend transport.Backend, sourceURL, dest string) (Digests, error) {
	tmpPath, err := t.fetchToTemp(backend, sourceURL, filepath.Dir(dest), func(p transport.Progress) {
		t.emit(Event{Progress: &p})
	})
	if err != nil {
		return Digests{}, err
	}
	if err := t.commit(tmpPath, dest); err != nil {
		return Digests{}, err
	}

	digests, err := ComputeDigests(t.fs, dest)
	if err != nil {
		return Digests{}, err
	}
	if err := t.record(dest, digests); err != nil {
		return Digests{}, err
	}
	logger.Debug("Stored model file", logger.Fields{"id": t.item.ID, "path": dest, "sha256": digests.SHA256})
	return digests, nil
}

// fetchToTemp streams sourceURL into a new staging file in dir and returns its
// path. The staging file is removed on failure or cancellation.
func (t *transfer) fetchToTemp(backend transport.Backend, sourceURL, dir string, progress transport.ProgressFunc) (string, error) {
	tmp, err := t.createTemp(dir)
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	err = backend.Download(t.ctx, sourceURL, tmp, progress)
	closeErr := tmp.Close()
	if err == nil {
		err = t.ctx.Err()
	}
	if err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", tmpPath, closeErr)
	}
	if err != nil {
		t.discard(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// commit renames a staging file to dest and normalises its permissions.
func (t *transfer) commit(tmpPath, dest string) error {
	if err := t.fs.Rename(tmpPath, dest); err != nil {
		t.discard(tmpPath)
		return fmt.Errorf("failed to move download into place at %s: %w", dest, err)
	}
	t.temps.Release(tmpPath)
	if err := t.fs.Chmod(dest, fsutil.FileModeDefault); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", dest, err)
	}
	return nil
}

// discard removes a staging file. A file that cannot be removed stays tracked
// for the registry's next Clear.
func (t *transfer) discard(tmpPath string) {
	err := t.fs.Remove(tmpPath)
	if err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove temporary file", logger.Fields{"path": tmpPath, "error": err})
		return
	}
	t.temps.Release(tmpPath)
}

func (t *transfer) createTemp(dir string) (afero.File, error) {
	tmp, err := afero.TempFile(t.fs, dir, TempPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	t.temps.Track(tmp.Name())
	return tmp, nil
}

// record writes location and digests back to the record store.
func (t *transfer) record(dest string, digests Digests) error {
	if t.store == nil {
		return nil
	}
	rec, err := t.store.GetRecordByID(t.item.ID)
	if err != nil {
		return fmt.Errorf("failed to load record %d: %w", t.item.ID, err)
	}
	rec.Location = dest
	rec.MD5Hash = digests.MD5
	rec.SHA256Hash = digests.SHA256
	if err := t.store.UpdateRecord(rec); err != nil {
		return fmt.Errorf("failed to update record %d: %w", t.item.ID, err)
	}
	return nil
}

func (t *transfer) runHook(dest string, digests Digests) error {
	if t.hooks == nil || t.done() {
		return nil
	}
	err := t.hooks.Execute(t.ctx, hook.PostDownload, hook.Context{
		RecordID:  t.item.ID,
		Name:      t.item.Name,
		ModelType: string(t.item.Type),
		Path:      dest,
		SHA256:    digests.SHA256,
		MD5:       digests.MD5,
	})
	if err != nil {
		logger.Warn("Post-download hook failed", logger.Fields{"id": t.item.ID, "error": err})
	}
	return err
}
