//go:generate mockgen -destination=./mocks/download.go . RecordStore
package download

import (
	"context"
	"strings"

	"github.com/glorpus-work/mofetch/pkg/hook"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/glorpus-work/mofetch/pkg/transport"
)

// RecordStore is the part of the record store a transfer writes back to.
type RecordStore interface {
	GetRecordByID(id int64) (*model.Record, error)
	UpdateRecord(record *model.Record) error
}

// BackendSelector picks the transport backend for a URL.
type BackendSelector interface {
	Select(rawURL string) (transport.Backend, error)
}

// DirResolver maps a model type to its default download directory.
type DirResolver interface {
	ModelDir(t model.ModelType) (string, error)
}

// HookRunner runs lifecycle hooks.
type HookRunner interface {
	Execute(ctx context.Context, hookType hook.HookType, hctx hook.Context) error
}

// Item represents one requested download: a model file plus an optional preview.
type Item struct {
	ID         int64 // record id, unique within a batch
	Name       string
	Type       model.ModelType
	URL        string // primary source
	BackupURL  string // tried when the primary source is unavailable
	PreviewURL string
	Subdir     string // joined below the destination root
	// Filename, when set, overrides every other naming source.
	Filename string
	// DownloadPath, when set, replaces the per-type root directory.
	DownloadPath string
}

// ItemFromRecord builds the download item for a stored record.
func ItemFromRecord(r *model.Record) Item {
	return Item{
		ID:           r.ID,
		Name:         r.Name,
		Type:         r.Type,
		URL:          strings.TrimSpace(r.DownloadURL),
		BackupURL:    strings.TrimSpace(r.BackupURL),
		PreviewURL:   strings.TrimSpace(r.PreviewURL),
		Subdir:       r.Subdir,
		Filename:     r.DownloadFilename,
		DownloadPath: r.DownloadPath,
	}
}
