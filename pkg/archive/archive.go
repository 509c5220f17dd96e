// Package archive writes and reads the compressed tar backups mofetch keeps of
// its record store.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/glorpus-work/mofetch/pkg/fsutil"
	"github.com/mholt/archives"
)

// Extension is the file extension of every backup archive.
const Extension = ".tar.gz"

// Manager handles backup archive creation and extraction.
type Manager struct {
	format archives.CompressedArchive
}

// NewManager creates a Manager producing gzip-compressed tarballs.
func NewManager() *Manager {
	return &Manager{
		format: archives.CompressedArchive{
			Compression: archives.Gz{},
			Archival:    archives.Tar{},
			Extraction:  archives.Tar{},
		},
	}
}

// Create writes the given files into a new archive at archivePath. files maps
// paths on disk to their names inside the archive. The archive appears
// atomically; a failed run leaves no partial file behind.
func (am *Manager) Create(ctx context.Context, archivePath string, files map[string]string) (err error) {
	sources := make(map[string]string, len(files))
	for diskPath, name := range files {
		abs, err := filepath.Abs(diskPath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", diskPath, err)
		}
		sources[abs] = name
	}

	archiveFiles, err := archives.FilesFromDisk(ctx, nil, sources)
	if err != nil {
		return fmt.Errorf("failed to read files from disk: %w", err)
	}

	dir := filepath.Dir(archivePath)
	tmp, err := os.CreateTemp(dir, ".backup-*"+Extension)
	if err != nil {
		return fmt.Errorf("failed to create temporary archive in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = am.format.Archive(ctx, tmp, archiveFiles); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err = os.Chmod(tmpPath, fsutil.FileModeSecure); err != nil {
		return fmt.Errorf("failed to set archive permissions: %w", err)
	}
	if err = os.Rename(tmpPath, archivePath); err != nil {
		return fmt.Errorf("failed to move archive to %s: %w", archivePath, err)
	}
	return nil
}

// ExtractFile extracts the entry name from the archive to destPath, replacing
// any existing file there atomically.
func (am *Manager) ExtractFile(ctx context.Context, archivePath, name, destPath string) (err error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	srcFile, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", name, err)
	}
	defer func() { _ = srcFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(destPath), fsutil.DirModeDefault); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, srcFile); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", name, destPath, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err = os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", destPath, err)
	}
	return nil
}

// Names lists the regular file entries of the archive.
func (am *Manager) Names(ctx context.Context, archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var names []string
	err = am.format.Extract(ctx, f, func(_ context.Context, info archives.FileInfo) error {
		if info.Mode().IsRegular() {
			names = append(names, info.NameInArchive)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return names, nil
}
