package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glorpus-work/mofetch/pkg/errors"
)

// FileExtension is the extension hook scripts must carry.
const FileExtension = ".tengo"

// Manager registers hook scripts and runs them.
type Manager struct {
	executor *TengoExecutor
}

// NewManager creates a manager without any hooks.
func NewManager() *Manager {
	return &Manager{executor: NewTengoExecutor()}
}

// Execute runs the hook registered for hookType, if any.
func (m *Manager) Execute(ctx context.Context, hookType HookType, hctx Context) error {
	if !m.HasHook(hookType) {
		return nil
	}
	if hctx.Vars == nil {
		hctx.Vars = make(map[string]interface{})
	}
	return m.executor.Execute(ctx, hookType, hctx)
}

// AddHook adds or replaces a hook.
func (m *Manager) AddHook(h Hook) error {
	if _, err := ParseHookType(string(h.Type)); err != nil {
		return err
	}
	m.executor.AddScript(h.Type, h.Content)
	return nil
}

// HasHook checks if a hook of the specified type exists.
func (m *Manager) HasHook(hookType HookType) bool {
	return m.executor.HasScript(hookType)
}

// LoadFile reads a tengo script from path and registers it for hookType.
// An empty path is ignored.
func (m *Manager) LoadFile(hookType HookType, path string) error {
	if path == "" {
		return nil
	}
	if filepath.Ext(path) != FileExtension {
		return fmt.Errorf("%w: %s is not a %s script", errors.ErrHookLoad, path, FileExtension)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrHookLoad, err)
	}
	return m.AddHook(Hook{Type: hookType, Content: string(content)})
}
