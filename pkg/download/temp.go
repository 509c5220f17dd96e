package download

import (
	"os"
	"sort"
	"sync"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/spf13/afero"
)

// TempPattern names staging files created next to their destination.
const TempPattern = ".mofetch-*.part"

// TempRegistry tracks staging files so an aborted batch leaves none behind.
type TempRegistry struct {
	fs    afero.Fs
	mutex sync.Mutex
	paths map[string]struct{}
}

// NewTempRegistry creates an empty registry operating on fs.
func NewTempRegistry(fs afero.Fs) *TempRegistry {
	return &TempRegistry{fs: fs, paths: make(map[string]struct{})}
}

// Track records path as a live staging file.
func (r *TempRegistry) Track(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.paths[path] = struct{}{}
}

// Release forgets path, typically after it was renamed into place or removed.
func (r *TempRegistry) Release(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.paths, path)
}

// Paths returns the tracked files, sorted.
func (r *TempRegistry) Paths() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]string, 0, len(r.paths))
	for p := range r.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clear removes every tracked file. Failures are logged, not returned, and the
// failing paths stay tracked for the next attempt. It returns the number of
// files removed.
func (r *TempRegistry) Clear() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := 0
	for p := range r.paths {
		err := r.fs.Remove(p)
		switch {
		case err == nil:
			removed++
			delete(r.paths, p)
		case os.IsNotExist(err):
			delete(r.paths, p)
		default:
			logger.Warn("Failed to remove temporary file", logger.Fields{"path": p, "error": err})
		}
	}
	return removed
}
