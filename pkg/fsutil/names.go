package fsutil

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// FilenameFromURL returns the last path segment of rawURL when it carries a
// non-empty extension, and "" otherwise.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	ext := path.Ext(name)
	if ext == "" || ext == "." {
		return ""
	}
	return SanitizeFilename(name)
}

// TrimExtension returns name without its final extension.
func TrimExtension(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ReplaceExtension swaps the extension of name for ext. A name without an
// extension simply gets ext appended. ext may be given with or without the dot.
func ReplaceExtension(name, ext string) string {
	return TrimExtension(name) + "." + strings.TrimPrefix(ext, ".")
}

// SanitizeFilename reduces a server- or user-supplied name to a single safe
// path element. It returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	return truncateFilename(name)
}

// truncateFilename shortens the stem of name so the whole name fits in
// MaxFilenameLength bytes, keeping the extension intact.
func truncateFilename(name string) string {
	if len(name) <= MaxFilenameLength {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= MaxFilenameLength {
		ext = ""
	}
	stem := name[:len(name)-len(filepath.Ext(name))]
	limit := MaxFilenameLength - len(ext)
	// back off to a rune boundary
	for limit > 0 && limit < len(stem) && !isRuneStart(stem[limit]) {
		limit--
	}
	return stem[:limit] + ext
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
