// Package hook runs user supplied tengo scripts at points of the download lifecycle.
package hook

import "fmt"

// HookType represents the lifecycle point a hook runs at.
type HookType string

// Supported hook types.
const (
	// PostDownload runs after a model file has been stored and recorded.
	PostDownload HookType = "post-download"
)

// ErrHookTypeEmpty is returned when a hook type is empty.
var ErrHookTypeEmpty = fmt.Errorf("hook type cannot be empty")

// ErrUnsupportedHookEvent is returned when an unsupported hook event is used.
func ErrUnsupportedHookEvent(event string) error {
	return fmt.Errorf("unsupported hook event: %s", event)
}

// ParseHookType validates s as a known hook type.
func ParseHookType(s string) (HookType, error) {
	switch HookType(s) {
	case PostDownload:
		return PostDownload, nil
	case "":
		return "", ErrHookTypeEmpty
	default:
		return "", ErrUnsupportedHookEvent(s)
	}
}

// Hook represents a hook script with its type and content.
type Hook struct {
	Type    HookType
	Content string
}

// Context contains the information exposed to hook scripts.
type Context struct {
	RecordID  int64
	Name      string
	ModelType string
	Path      string
	SHA256    string
	MD5       string
	Vars      map[string]interface{}
}
