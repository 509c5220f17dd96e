package fsutil

// File and directory permission constants.
// These follow standard Unix permission conventions and are used consistently
// for everything mofetch writes to disk.
const (
	// FileModeDefault is applied to every finalized artifact and preview: -rw-r--r--.
	FileModeDefault = 0o644
	// FileModeSecure is used for files that may carry credentials: -rw-------.
	FileModeSecure = 0o600

	// DirModeDefault is used for destination directories: drwxr-xr-x.
	DirModeDefault = 0o755
	// DirModePrivate is used for the application's own state: drwx------.
	DirModePrivate = 0o700
)

// MaxFilenameLength is the longest filename, in bytes, that mofetch will create.
// Most local filesystems reject names longer than 255 bytes.
const MaxFilenameLength = 255
