// Package testutil holds helpers shared by tests that need a model server or
// a throwaway configuration.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glorpus-work/mofetch/pkg/config"
)

// ModelServer serves in-memory files over HTTP and counts the requests it sees.
type ModelServer struct {
	*httptest.Server

	mutex    sync.RWMutex
	files    map[string][]byte
	headers  map[string]http.Header
	requests atomic.Int64
}

// NewModelServer starts a server that is closed when t finishes.
func NewModelServer(t *testing.T) *ModelServer {
	t.Helper()
	s := &ModelServer{files: make(map[string][]byte), headers: make(map[string]http.Header)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddFile serves body at path and returns its absolute URL.
func (s *ModelServer) AddFile(path string, body []byte) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[path] = body
	return s.URL + path
}

// SetHeader adds a response header for path, e.g. Content-Disposition.
func (s *ModelServer) SetHeader(path, key, value string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.headers[path] == nil {
		s.headers[path] = http.Header{}
	}
	s.headers[path].Set(key, value)
}

// Requests returns how many requests the server has handled.
func (s *ModelServer) Requests() int64 {
	return s.requests.Load()
}

func (s *ModelServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	s.mutex.RLock()
	body, ok := s.files[r.URL.Path]
	header := s.headers[r.URL.Path]
	s.mutex.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, v := range header {
		w.Header()[k] = v
	}
	_, _ = w.Write(body)
}

// SetupTestConfig writes a configuration below a temporary directory with its
// own models directory and record store, and returns the config file path.
func SetupTestConfig(t *testing.T, mutate ...func(*config.Config)) string {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Settings.ModelsDir = filepath.Join(dir, "models")
	cfg.Settings.StorePath = filepath.Join(dir, "records.json")
	cfg.Settings.PollInterval = config.DefaultPollInterval / 20
	for _, fn := range mutate {
		fn(cfg)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := cfg.SaveConfig(configPath); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}
