// Package errors holds the sentinel errors shared across mofetch packages and
// small helpers for adding context to them.
package errors

import "fmt"

// Common error types.
var (
	// Config errors.
	ErrEmptyConfigPath   = fmt.Errorf("config file path cannot be empty")
	ErrInvalidConfigPath = fmt.Errorf("invalid config file path")
	ErrConfigParse       = fmt.Errorf("failed to parse config")
	ErrConfigValidation  = fmt.Errorf("invalid configuration")
	ErrConfigEncode      = fmt.Errorf("failed to encode config")
	ErrConfigDirectory   = fmt.Errorf("failed to create config directory")
	ErrConfigFileCreate  = fmt.Errorf("failed to create config file")
	ErrConfigFileRename  = fmt.Errorf("failed to replace config file")
	ErrConfigFileExists  = fmt.Errorf("config file already exists")

	// Transfer errors.
	ErrUnhandledURL         = fmt.Errorf("unhandled URL scheme")
	ErrSourceUnavailable    = fmt.Errorf("source is not available")
	ErrDestinationUndefined = fmt.Errorf("destination path is undefined")
	ErrDownloadFailed       = fmt.Errorf("download failed")
	ErrInvalidPath          = fmt.Errorf("invalid path")

	// Store errors.
	ErrRecordNotFound = fmt.Errorf("record not found")
	ErrStoreFormat    = fmt.Errorf("unsupported store format")
	ErrStoreMigration = fmt.Errorf("store migration failed")
	ErrInvalidRecord  = fmt.Errorf("invalid record")

	// Engine errors.
	ErrBatchRunning  = fmt.Errorf("a download batch is already running")
	ErrDuplicateItem = fmt.Errorf("duplicate item in batch")
	ErrBatchFailed   = fmt.Errorf("download batch finished with errors")
	ErrBatchCanceled = fmt.Errorf("download batch was cancelled")
	ErrNoRecords     = fmt.Errorf("no records selected")

	// Hook errors.
	ErrHookExecution = fmt.Errorf("error executing hook")
	ErrHookScript    = fmt.Errorf("hook script error")
	ErrHookLoad      = fmt.Errorf("failed to load hook")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
