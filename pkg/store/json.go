package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glorpus-work/mofetch/pkg/archive"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/glorpus-work/mofetch/pkg/model"
)

// document is the on-disk layout of the current format.
type document struct {
	FormatVersion string          `json:"format_version"`
	LastUpdate    time.Time       `json:"last_update"`
	NextID        int64           `json:"next_id"`
	Records       []*model.Record `json:"records"`
}

// JSONStore keeps every record in one JSON file, rewritten atomically after
// each change.
type JSONStore struct {
	path     string
	archiver *archive.Manager
	now      func() time.Time

	rwMutex sync.RWMutex
	doc     document
}

var _ Store = (*JSONStore)(nil)

// OpenJSONStore loads the store at path, migrating older formats in place after
// archiving the original next to it. A missing file yields an empty store that
// is created on the first write.
func OpenJSONStore(ctx context.Context, path string) (*JSONStore, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("store path must be absolute: %s: %w", path, errors.ErrInvalidPath)
	}

	s := &JSONStore{
		path:     cleanPath,
		archiver: archive.NewManager(),
		now:      time.Now,
		doc: document{
			FormatVersion: CurrentFormatVersion,
			NextID:        1,
			Records:       []*model.Record{},
		},
	}

	data, err := os.ReadFile(cleanPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	doc, migrated, err := s.decode(ctx, data)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	if migrated {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the location of the store file.
func (s *JSONStore) Path() string { return s.path }

// GetRecordByID returns the record with the given id.
func (s *JSONStore) GetRecordByID(id int64) (*model.Record, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("record %d: %w", id, errors.ErrRecordNotFound)
	}
	return s.doc.Records[i].Clone(), nil
}

// GetRecordsByGroup returns the records carrying group, compared case-insensitively.
func (s *JSONStore) GetRecordsByGroup(group string) ([]*model.Record, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	var out []*model.Record
	for _, r := range s.doc.Records {
		if r.InGroup(group) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// GetAllRecords returns every record ordered by id.
func (s *JSONStore) GetAllRecords() ([]*model.Record, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	out := make([]*model.Record, 0, len(s.doc.Records))
	for _, r := range s.doc.Records {
		out = append(out, r.Clone())
	}
	return out, nil
}

// GetAvailableGroups returns the distinct groups across all records, sorted.
// Groups differing only in case are reported once, in their first spelling.
func (s *JSONStore) GetAvailableGroups() ([]string, error) {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()

	seen := make(map[string]bool)
	var groups []string
	for _, r := range s.doc.Records {
		for _, g := range r.Groups {
			g = strings.TrimSpace(g)
			key := strings.ToLower(g)
			if g == "" || seen[key] {
				continue
			}
			seen[key] = true
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i]) < strings.ToLower(groups[j])
	})
	return groups, nil
}

// AddRecord validates and stores a new record, returning its id.
func (s *JSONStore) AddRecord(record *model.Record) (int64, error) {
	if record == nil {
		return 0, errors.ErrInvalidRecord
	}
	if err := record.Validate(); err != nil {
		return 0, errors.Wrap(errors.ErrInvalidRecord, err.Error())
	}

	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	r := record.Clone()
	r.ID = s.doc.NextID
	r.Groups = normalizeGroups(r.Groups)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	if r.Weight == 0 {
		r.Weight = 1
	}

	s.doc.Records = append(s.doc.Records, r)
	s.doc.NextID++
	if err := s.save(); err != nil {
		s.doc.Records = s.doc.Records[:len(s.doc.Records)-1]
		s.doc.NextID--
		return 0, err
	}
	record.ID = r.ID
	return r.ID, nil
}

// UpdateRecord replaces the stored record with the same id.
func (s *JSONStore) UpdateRecord(record *model.Record) error {
	if record == nil {
		return errors.ErrInvalidRecord
	}

	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	i := s.indexOf(record.ID)
	if i < 0 {
		return fmt.Errorf("record %d: %w", record.ID, errors.ErrRecordNotFound)
	}

	prev := s.doc.Records[i]
	r := record.Clone()
	r.Groups = normalizeGroups(r.Groups)
	s.doc.Records[i] = r
	if err := s.save(); err != nil {
		s.doc.Records[i] = prev
		return err
	}
	return nil
}

// RemoveRecord deletes the record with the given id.
func (s *JSONStore) RemoveRecord(id int64) error {
	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("record %d: %w", id, errors.ErrRecordNotFound)
	}

	prev := s.doc.Records
	s.doc.Records = slices.Delete(slices.Clone(prev), i, i+1)
	if err := s.save(); err != nil {
		s.doc.Records = prev
		return err
	}
	return nil
}

func (s *JSONStore) indexOf(id int64) int {
	return slices.IndexFunc(s.doc.Records, func(r *model.Record) bool { return r.ID == id })
}

// save writes the document atomically. Callers hold the write lock.
func (s *JSONStore) save() (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".mofetch-store-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	s.doc.LastUpdate = s.now().UTC()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to marshal store to JSON: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write to temporary file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temporary file to disk: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temporary file to %s: %w", s.path, err)
	}
	return nil
}

func normalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || slices.ContainsFunc(out, func(o string) bool { return strings.EqualFold(o, g) }) {
			continue
		}
		out = append(out, g)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
