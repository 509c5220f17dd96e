package download_test

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/glorpus-work/mofetch/pkg/download"
	dlmocks "github.com/glorpus-work/mofetch/pkg/download/mocks"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/hook"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/glorpus-work/mofetch/pkg/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const modelsRoot = "/models"

type fixedDirs string

func (d fixedDirs) ModelDir(t model.ModelType) (string, error) {
	return filepath.Join(string(d), t.DefaultDirName()), nil
}

type noDirs struct{}

func (noDirs) ModelDir(model.ModelType) (string, error) {
	return "", errors.ErrDestinationUndefined
}

type hookFunc func(ctx context.Context, hookType hook.HookType, hctx hook.Context) error

func (f hookFunc) Execute(ctx context.Context, hookType hook.HookType, hctx hook.Context) error {
	return f(ctx, hookType, hctx)
}

// artifactServer serves fixed bodies by path and counts requests.
type artifactServer struct {
	*httptest.Server
	requests atomic.Int64
}

func newArtifactServer(t *testing.T, files map[string][]byte) *artifactServer {
	t.Helper()
	s := &artifactServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/named") {
			w.Header().Set("Content-Disposition", `attachment; filename="suggested.pt"`)
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func newExecutor(fs afero.Fs, store download.RecordStore, opts ...func(*download.Options)) *download.Executor {
	o := download.Options{
		Fs:             fs,
		Backends:       transport.NewRegistry(transport.NewHTTPBackend(transport.Options{ChunkSize: 4})),
		Store:          store,
		Dirs:           fixedDirs(modelsRoot),
		PreviewEnabled: true,
		PreviewMaxSize: 64,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return download.NewExecutor(o)
}

func collect(seq func(func(download.Event) bool)) []download.Event {
	var events []download.Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func finalStatus(events []download.Event) download.Status {
	var status download.Status
	for _, ev := range events {
		if ev.Status != "" {
			status = ev.Status
		}
	}
	return status
}

func firstErr(events []download.Event) error {
	for _, ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
	}
	return nil
}

func digestsOf(data []byte) (string, string) {
	m := md5.Sum(data) //nolint:gosec
	s := sha256.Sum256(data)
	return hex.EncodeToString(m[:]), hex.EncodeToString(s[:])
}

func expectRecordUpdate(t *testing.T, store *dlmocks.MockRecordStore, id int64, wantPath string, content []byte) {
	t.Helper()
	wantMD5, wantSHA := digestsOf(content)
	store.EXPECT().GetRecordByID(id).Return(&model.Record{ID: id, Name: "m"}, nil)
	store.EXPECT().UpdateRecord(gomock.Any()).DoAndReturn(func(r *model.Record) error {
		assert.Equal(t, id, r.ID)
		assert.Equal(t, wantPath, r.Location)
		assert.Equal(t, wantMD5, r.MD5Hash)
		assert.Equal(t, wantSHA, r.SHA256Hash)
		return nil
	})
}

func assertNoStagingFiles(t *testing.T, fs afero.Fs, dir string, exec *download.Executor) {
	t.Helper()
	matches, err := afero.Glob(fs, filepath.Join(dir, download.TempPattern))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, exec.TempFiles().Paths())
}

func TestRunCompletesAndRecordsDigests(t *testing.T) {
	content := []byte("safetensors-payload")
	server := newArtifactServer(t, map[string][]byte{"/files/model.safetensors": content})
	fs := afero.NewMemMapFs()
	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl)

	dest := filepath.Join(modelsRoot, "Lora", "model.safetensors")
	expectRecordUpdate(t, store, 1, dest, content)

	exec := newExecutor(fs, store)
	events := collect(exec.Run(context.Background(), download.Item{
		ID:   1,
		Type: model.ModelTypeLora,
		URL:  server.URL + "/files/model.safetensors",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, download.StatusInProgress, events[0].Status)
	assert.Equal(t, download.StatusCompleted, finalStatus(events))
	assert.NoError(t, firstErr(events))

	got, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	info, err := fs.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, "-rw-r--r--", info.Mode().Perm().String())

	_, wantSHA := digestsOf(content)
	last := events[len(events)-1]
	assert.Equal(t, wantSHA, last.SHA256)

	var sawProgress bool
	for _, ev := range events {
		if ev.Progress != nil {
			sawProgress = true
			assert.Equal(t, int64(len(content)), ev.Progress.BytesTotal)
		}
	}
	assert.True(t, sawProgress)
	assertNoStagingFiles(t, fs, filepath.Dir(dest), exec)
}

func TestRunExistingFileSkipsNetwork(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/files/model.safetensors": []byte("new")})
	fs := afero.NewMemMapFs()
	dest := filepath.Join(modelsRoot, "Lora", "model.safetensors")
	require.NoError(t, afero.WriteFile(fs, dest, []byte("old"), 0o644))

	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl) // no calls expected

	events := collect(newExecutor(fs, store).Run(context.Background(), download.Item{
		ID:   2,
		Type: model.ModelTypeLora,
		URL:  server.URL + "/files/model.safetensors",
	}))

	assert.Equal(t, download.StatusExists, finalStatus(events))
	assert.Equal(t, int64(0), server.requests.Load())
	last := events[len(events)-1]
	assert.Equal(t, dest, last.Destination)

	got, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
}

func TestRunExistingFileAfterResolvingName(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/api/download/named": []byte("new")})
	fs := afero.NewMemMapFs()
	dest := filepath.Join(modelsRoot, "VAE", "suggested.pt")
	require.NoError(t, afero.WriteFile(fs, dest, []byte("old"), 0o644))

	events := collect(newExecutor(fs, nil).Run(context.Background(), download.Item{
		ID:   3,
		Type: model.ModelTypeVAE,
		URL:  server.URL + "/api/download/named",
	}))

	assert.Equal(t, download.StatusExists, finalStatus(events))
}

func TestRunUnreachableWithoutBackup(t *testing.T) {
	server := newArtifactServer(t, nil)
	fs := afero.NewMemMapFs()
	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl)

	events := collect(newExecutor(fs, store).Run(context.Background(), download.Item{
		ID:   4,
		Type: model.ModelTypeLora,
		URL:  server.URL + "/gone.safetensors",
	}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	err := firstErr(events)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrNotFound)
	assert.NotEmpty(t, err.Error())
}

func TestRunFallsBackToBackupURL(t *testing.T) {
	backup := []byte("backup-bytes")
	server := newArtifactServer(t, map[string][]byte{"/mirror/alt.ckpt": backup})
	fs := afero.NewMemMapFs()
	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl)

	dest := filepath.Join(modelsRoot, "Stable-diffusion", "alt.ckpt")
	expectRecordUpdate(t, store, 5, dest, backup)

	events := collect(newExecutor(fs, store).Run(context.Background(), download.Item{
		ID:        5,
		Type:      model.ModelTypeCheckpoint,
		URL:       server.URL + "/primary/missing.ckpt",
		BackupURL: server.URL + "/mirror/alt.ckpt",
	}))

	assert.Equal(t, download.StatusCompleted, finalStatus(events))
	got, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, backup, got)
}

func TestRunWithBackupIgnoresExistingPrimaryName(t *testing.T) {
	backup := []byte("backup-bytes")
	server := newArtifactServer(t, map[string][]byte{"/mirror/alt.ckpt": backup})
	fs := afero.NewMemMapFs()
	stale := filepath.Join(modelsRoot, "Stable-diffusion", "model.ckpt")
	require.NoError(t, afero.WriteFile(fs, stale, []byte("old"), 0o644))

	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl)
	dest := filepath.Join(modelsRoot, "Stable-diffusion", "alt.ckpt")
	expectRecordUpdate(t, store, 8, dest, backup)

	events := collect(newExecutor(fs, store).Run(context.Background(), download.Item{
		ID:        8,
		Type:      model.ModelTypeCheckpoint,
		URL:       server.URL + "/primary/model.ckpt",
		BackupURL: server.URL + "/mirror/alt.ckpt",
	}))

	assert.Equal(t, download.StatusCompleted, finalStatus(events))
	got, err := afero.ReadFile(fs, dest)
	require.NoError(t, err)
	assert.Equal(t, backup, got)
	old, err := afero.ReadFile(fs, stale)
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestRunBothSourcesUnavailable(t *testing.T) {
	server := newArtifactServer(t, nil)

	events := collect(newExecutor(afero.NewMemMapFs(), nil).Run(context.Background(), download.Item{
		ID:        6,
		Type:      model.ModelTypeLora,
		URL:       server.URL + "/a.bin",
		BackupURL: server.URL + "/b.bin",
	}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	err := firstErr(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup")
}

func TestRunFilenamePriority(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{
		"/files/model.safetensors": []byte("a"),
		"/api/download/named":      []byte("b"),
		"/":                        []byte("c"),
	})

	tests := []struct {
		name     string
		item     download.Item
		wantName string
	}{
		{
			name:     "explicit filename wins",
			item:     download.Item{ID: 10, URL: server.URL + "/files/model.safetensors", Filename: "mine.bin"},
			wantName: "mine.bin",
		},
		{
			name:     "url path with extension",
			item:     download.Item{ID: 11, URL: server.URL + "/files/model.safetensors"},
			wantName: "model.safetensors",
		},
		{
			name:     "backend suggestion",
			item:     download.Item{ID: 12, URL: server.URL + "/api/download/named"},
			wantName: "suggested.pt",
		},
		{
			name:     "identifier as last resort",
			item:     download.Item{ID: 13, URL: server.URL + "/"},
			wantName: "13",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.item.Type = model.ModelTypeOther
			events := collect(newExecutor(afero.NewMemMapFs(), nil).Run(context.Background(), tt.item))

			require.Equal(t, download.StatusCompleted, finalStatus(events), "err: %v", firstErr(events))
			var filename string
			for _, ev := range events {
				if ev.Filename != "" {
					filename = ev.Filename
				}
			}
			assert.Equal(t, tt.wantName, filename)
		})
	}
}

func TestRunDestinationOverrideAndSubdir(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/m.pt": []byte("x")})
	fs := afero.NewMemMapFs()

	events := collect(newExecutor(fs, nil).Run(context.Background(), download.Item{
		ID:           14,
		Type:         model.ModelTypeLora,
		URL:          server.URL + "/m.pt",
		DownloadPath: "/custom",
		Subdir:       "styles/anime",
	}))

	require.Equal(t, download.StatusCompleted, finalStatus(events))
	ok, err := afero.Exists(fs, "/custom/styles/anime/m.pt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRejectsEscapingSubdir(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/m.pt": []byte("x")})

	events := collect(newExecutor(afero.NewMemMapFs(), nil).Run(context.Background(), download.Item{
		ID:     15,
		URL:    server.URL + "/m.pt",
		Subdir: "../../etc",
	}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	assert.ErrorIs(t, firstErr(events), errors.ErrInvalidPath)
}

func TestRunUndefinedDestination(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/m.pt": []byte("x")})
	exec := newExecutor(afero.NewMemMapFs(), nil, func(o *download.Options) { o.Dirs = noDirs{} })

	events := collect(exec.Run(context.Background(), download.Item{ID: 16, URL: server.URL + "/m.pt"}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	err := firstErr(events)
	assert.ErrorIs(t, err, errors.ErrDestinationUndefined)
	assert.Contains(t, err.Error(), "destination path is undefined")
}

func TestRunUnhandledURL(t *testing.T) {
	events := collect(newExecutor(afero.NewMemMapFs(), nil).Run(context.Background(), download.Item{
		ID:  17,
		URL: "ftp://example.com/model.bin",
	}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	assert.ErrorIs(t, firstErr(events), errors.ErrUnhandledURL)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRunStoresResizedPreview(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{
		"/m/detail.safetensors": []byte("weights"),
		"/img/preview.png":      pngBytes(t, 300, 150),
	})
	fs := afero.NewMemMapFs()
	exec := newExecutor(fs, nil)

	events := collect(exec.Run(context.Background(), download.Item{
		ID:         20,
		Type:       model.ModelTypeLora,
		URL:        server.URL + "/m/detail.safetensors",
		PreviewURL: server.URL + "/img/preview.png",
	}))

	require.Equal(t, download.StatusCompleted, finalStatus(events))
	previewPath := filepath.Join(modelsRoot, "Lora", "detail.jpg")

	var previewName string
	for _, ev := range events {
		assert.NoError(t, ev.PreviewErr)
		if ev.PreviewFilename != "" {
			previewName = ev.PreviewFilename
			assert.Equal(t, previewPath, ev.PreviewDestination)
		}
	}
	assert.Equal(t, "detail.jpg", previewName)

	f, err := fs.Open(previewPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
	assertNoStagingFiles(t, fs, filepath.Dir(previewPath), exec)
}

func TestRunPreviewFailureIsNonFatal(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{
		"/m/detail.safetensors": []byte("weights"),
		"/img/broken.png":       []byte("<html>not an image</html>"),
	})

	tests := []struct {
		name       string
		previewURL string
	}{
		{name: "unreachable preview", previewURL: server.URL + "/img/missing.png"},
		{name: "undecodable preview", previewURL: server.URL + "/img/broken.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			exec := newExecutor(fs, nil)
			events := collect(exec.Run(context.Background(), download.Item{
				ID:         21,
				Type:       model.ModelTypeLora,
				URL:        server.URL + "/m/detail.safetensors",
				PreviewURL: tt.previewURL,
			}))

			assert.Equal(t, download.StatusCompleted, finalStatus(events))
			assert.NoError(t, firstErr(events))
			var previewErr error
			for _, ev := range events {
				if ev.PreviewErr != nil {
					previewErr = ev.PreviewErr
				}
			}
			assert.Error(t, previewErr)

			ok, err := afero.Exists(fs, filepath.Join(modelsRoot, "Lora", "detail.jpg"))
			require.NoError(t, err)
			assert.False(t, ok)
			assertNoStagingFiles(t, fs, filepath.Join(modelsRoot, "Lora"), exec)
		})
	}
}

func TestRunKeepsExistingPreviewAndHonoursDisabledPreviews(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{
		"/m/detail.safetensors": []byte("weights"),
		"/img/preview.png":      pngBytes(t, 8, 8),
	})

	fs := afero.NewMemMapFs()
	previewPath := filepath.Join(modelsRoot, "Lora", "detail.jpg")
	require.NoError(t, afero.WriteFile(fs, previewPath, []byte("kept"), 0o644))

	events := collect(newExecutor(fs, nil).Run(context.Background(), download.Item{
		ID: 22, Type: model.ModelTypeLora,
		URL:        server.URL + "/m/detail.safetensors",
		PreviewURL: server.URL + "/img/preview.png",
	}))
	require.Equal(t, download.StatusCompleted, finalStatus(events))
	got, err := afero.ReadFile(fs, previewPath)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))

	fs = afero.NewMemMapFs()
	exec := newExecutor(fs, nil, func(o *download.Options) { o.PreviewEnabled = false })
	events = collect(exec.Run(context.Background(), download.Item{
		ID: 23, Type: model.ModelTypeLora,
		URL:        server.URL + "/m/detail.safetensors",
		PreviewURL: server.URL + "/img/preview.png",
	}))
	require.Equal(t, download.StatusCompleted, finalStatus(events))
	ok, err := afero.Exists(fs, previewPath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunHookFailureIsNonFatal(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/m.pt": []byte("x")})
	var seen hook.Context
	exec := newExecutor(afero.NewMemMapFs(), nil, func(o *download.Options) {
		o.Hooks = hookFunc(func(_ context.Context, hookType hook.HookType, hctx hook.Context) error {
			assert.Equal(t, hook.PostDownload, hookType)
			seen = hctx
			return fmt.Errorf("%w: boom", errors.ErrHookScript)
		})
	})

	events := collect(exec.Run(context.Background(), download.Item{ID: 30, Name: "tiny", Type: model.ModelTypeVAE, URL: server.URL + "/m.pt"}))

	last := events[len(events)-1]
	assert.Equal(t, download.StatusCompleted, last.Status)
	assert.ErrorIs(t, last.HookErr, errors.ErrHookScript)
	assert.Equal(t, int64(30), seen.RecordID)
	assert.Equal(t, filepath.Join(modelsRoot, "VAE", "m.pt"), seen.Path)
	assert.NotEmpty(t, seen.SHA256)
}

func TestRunCancelledMidTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte("z"), 64))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	ctrl := gomock.NewController(t)
	store := dlmocks.NewMockRecordStore(ctrl) // never touched
	exec := newExecutor(fs, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []download.Event
	for ev := range exec.Run(ctx, download.Item{ID: 40, Type: model.ModelTypeLora, URL: server.URL + "/big.safetensors"}) {
		events = append(events, ev)
		if ev.Progress != nil {
			cancel()
		}
	}

	for _, ev := range events {
		assert.False(t, ev.Status.Terminal(), "no terminal status after cancellation, got %s", ev.Status)
	}
	dir := filepath.Join(modelsRoot, "Lora")
	ok, err := afero.Exists(fs, filepath.Join(dir, "big.safetensors"))
	require.NoError(t, err)
	assert.False(t, ok)
	assertNoStagingFiles(t, fs, dir, exec)
}

func TestRunConsumerStopsEarly(t *testing.T) {
	server := newArtifactServer(t, map[string][]byte{"/m.pt": []byte(strings.Repeat("q", 100))})
	fs := afero.NewMemMapFs()
	exec := newExecutor(fs, nil)

	count := 0
	for ev := range exec.Run(context.Background(), download.Item{ID: 41, URL: server.URL + "/m.pt"}) {
		count++
		if ev.Progress != nil {
			break
		}
	}

	assert.Positive(t, count)
	assertNoStagingFiles(t, fs, filepath.Join(modelsRoot, "other"), exec)
}

type panickingBackend struct{}

func (panickingBackend) Kind() transport.Kind                           { return "panic" }
func (panickingBackend) Accepts(string) bool                            { return true }
func (panickingBackend) CheckAvailable(context.Context, string) error   { panic("probe exploded") }
func (panickingBackend) ResolveFilename(context.Context, string) string { return "" }
func (panickingBackend) Download(context.Context, string, io.Writer, transport.ProgressFunc) error {
	return nil
}

func TestRunRecoversBackendPanic(t *testing.T) {
	exec := newExecutor(afero.NewMemMapFs(), nil, func(o *download.Options) {
		o.Backends = transport.NewRegistry(panickingBackend{})
	})

	events := collect(exec.Run(context.Background(), download.Item{ID: 50, URL: "https://x/y.bin"}))

	assert.Equal(t, download.StatusError, finalStatus(events))
	assert.Contains(t, firstErr(events).Error(), "probe exploded")
}

func TestItemFromRecord(t *testing.T) {
	item := download.ItemFromRecord(&model.Record{
		ID:               9,
		Name:             "n",
		Type:             model.ModelTypeLyCORIS,
		DownloadURL:      " https://a/b.safetensors ",
		BackupURL:        "https://mirror/b.safetensors",
		PreviewURL:       "https://a/p.png",
		Subdir:           "s",
		DownloadFilename: "f.safetensors",
		DownloadPath:     "/p",
	})

	assert.Equal(t, download.Item{
		ID:           9,
		Name:         "n",
		Type:         model.ModelTypeLyCORIS,
		URL:          "https://a/b.safetensors",
		BackupURL:    "https://mirror/b.safetensors",
		PreviewURL:   "https://a/p.png",
		Subdir:       "s",
		Filename:     "f.safetensors",
		DownloadPath: "/p",
	}, item)
}
