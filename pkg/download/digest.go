package download

import (
	"crypto/md5" //nolint:gosec // fast content fingerprint, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Digests are the content hashes recorded for a downloaded file.
type Digests struct {
	MD5    string
	SHA256 string
}

// ComputeDigests hashes the file at path with MD5 and SHA-256 in a single read.
func ComputeDigests(fs afero.Fs, path string) (Digests, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Digests{}, fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	md5Hash := md5.New() //nolint:gosec
	shaHash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5Hash, shaHash), f); err != nil {
		return Digests{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return Digests{
		MD5:    hex.EncodeToString(md5Hash.Sum(nil)),
		SHA256: hex.EncodeToString(shaHash.Sum(nil)),
	}, nil
}
