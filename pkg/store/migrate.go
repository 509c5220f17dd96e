package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/archive"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/hashicorp/go-version"
)

// CurrentFormatVersion is the store format written by this build.
const CurrentFormatVersion = "2"

// migration upgrades a raw document from format version from to the next one.
type migration struct {
	from  string
	apply func(raw map[string]json.RawMessage) error
}

var migrations = []migration{
	{from: "1", apply: migrateV1},
}

// decode parses data, migrating older formats. The bool result reports whether
// a migration ran and the document must be written back.
func (s *JSONStore) decode(ctx context.Context, data []byte) (document, bool, error) {
	var head struct {
		FormatVersion string `json:"format_version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return document{}, false, fmt.Errorf("%w: %v", errors.ErrStoreFormat, err)
	}
	if head.FormatVersion == "" {
		return document{}, false, fmt.Errorf("%w: missing format_version", errors.ErrStoreFormat)
	}

	fileVersion, err := version.NewVersion(head.FormatVersion)
	if err != nil {
		return document{}, false, fmt.Errorf("%w: %v", errors.ErrStoreFormat, err)
	}
	current := version.Must(version.NewVersion(CurrentFormatVersion))

	if fileVersion.GreaterThan(current) {
		return document{}, false, fmt.Errorf("%w: format %s is newer than supported %s", errors.ErrStoreFormat, fileVersion, current)
	}

	migrated := false
	if fileVersion.LessThan(current) {
		if err := s.backup(ctx, fileVersion); err != nil {
			return document{}, false, fmt.Errorf("%w: %v", errors.ErrStoreMigration, err)
		}
		if data, err = migrate(data, fileVersion); err != nil {
			return document{}, false, fmt.Errorf("%w: %v", errors.ErrStoreMigration, err)
		}
		logger.Info("Record store migrated", logger.Fields{
			"from": fileVersion.Original(),
			"to":   CurrentFormatVersion,
			"path": s.path,
		})
		migrated = true
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, false, fmt.Errorf("%w: %v", errors.ErrStoreFormat, err)
	}
	if doc.Records == nil {
		doc.Records = []*model.Record{}
	}
	for _, r := range doc.Records {
		if r.ID >= doc.NextID {
			doc.NextID = r.ID + 1
		}
	}
	if doc.NextID < 1 {
		doc.NextID = 1
	}
	return doc, migrated, nil
}

// migrate applies every migration starting at from, in order.
func migrate(data []byte, from *version.Version) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	for _, m := range migrations {
		mv := version.Must(version.NewVersion(m.from))
		if mv.LessThan(from) {
			continue
		}
		if err := m.apply(raw); err != nil {
			return nil, fmt.Errorf("migrating from format %s: %w", m.from, err)
		}
	}

	raw["format_version"], _ = json.Marshal(CurrentFormatVersion)
	return json.Marshal(raw)
}

// migrateV1 converts comma-joined group strings into lists, renames model_hash
// to sha256_hash, introduces backup_url and turns unix creation times into
// timestamps.
func migrateV1(raw map[string]json.RawMessage) error {
	var records []map[string]any
	if rec, ok := raw["records"]; ok {
		if err := json.Unmarshal(rec, &records); err != nil {
			return err
		}
	}

	for _, r := range records {
		switch g := r["groups"].(type) {
		case string:
			var groups []string
			for _, part := range strings.Split(g, ",") {
				if part = strings.TrimSpace(part); part != "" {
					groups = append(groups, part)
				}
			}
			r["groups"] = groups
		case nil:
			delete(r, "groups")
		}
		if h, ok := r["model_hash"]; ok {
			if _, exists := r["sha256_hash"]; !exists {
				r["sha256_hash"] = h
			}
			delete(r, "model_hash")
		}
		if _, ok := r["backup_url"]; !ok {
			r["backup_url"] = ""
		}
		// v1 stored creation time as unix seconds
		if secs, ok := r["created_at"].(float64); ok {
			r["created_at"] = time.Unix(int64(secs), 0).UTC().Format(time.RFC3339)
		}
	}

	out, err := json.Marshal(records)
	if err != nil {
		return err
	}
	raw["records"] = out
	return nil
}

// Backup describes an archived copy of the store taken before a migration.
type Backup struct {
	Version *version.Version
	Path    string
}

// BackupPath returns where the archive of the store at storePath in format v is kept.
func BackupPath(storePath string, v *version.Version) string {
	return fmt.Sprintf("%s.v%s.bak%s", storePath, v.Original(), archive.Extension)
}

// ListBackups returns the archived copies of the store at storePath, oldest format first.
func ListBackups(storePath string) ([]Backup, error) {
	matches, err := filepath.Glob(storePath + ".v*.bak" + archive.Extension)
	if err != nil {
		return nil, err
	}

	prefix := storePath + ".v"
	suffix := ".bak" + archive.Extension
	backups := make([]Backup, 0, len(matches))
	for _, m := range matches {
		v, err := version.NewVersion(strings.TrimSuffix(strings.TrimPrefix(m, prefix), suffix))
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Version: v, Path: m})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Version.LessThan(backups[j].Version) })
	return backups, nil
}

// backup archives the current store file as format v and drops backups of
// older formats.
func (s *JSONStore) backup(ctx context.Context, v *version.Version) error {
	older, err := ListBackups(s.path)
	if err != nil {
		return err
	}

	target := BackupPath(s.path, v)
	if err := s.archiver.Create(ctx, target, map[string]string{s.path: filepath.Base(s.path)}); err != nil {
		return err
	}
	logger.Info("Record store backup created", logger.Fields{"version": v.Original(), "path": target})

	for _, b := range older {
		if b.Version.LessThan(v) {
			if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove old store backup", logger.Fields{"path": b.Path, "error": err})
			}
		}
	}
	return nil
}

// RestoreBackup replaces the store file at storePath with the copy kept in
// backupPath. The restored file is migrated again on the next open.
func RestoreBackup(ctx context.Context, storePath, backupPath string) error {
	if err := archive.NewManager().ExtractFile(ctx, backupPath, filepath.Base(storePath), storePath); err != nil {
		return fmt.Errorf("failed to restore %s: %w", backupPath, err)
	}
	return nil
}
