package download

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDigests(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/hello.bin", []byte("hello world"), 0o644))

	d, err := ComputeDigests(fs, "/m/hello.bin")
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", d.MD5)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", d.SHA256)
}

func TestComputeDigestsEmptyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/m/empty", nil, 0o644))

	d, err := ComputeDigests(fs, "/m/empty")
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", d.MD5)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d.SHA256)
}

func TestComputeDigestsMissingFile(t *testing.T) {
	_, err := ComputeDigests(afero.NewMemMapFs(), "/nope")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusExists, StatusError, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusInProgress, ""} {
		assert.False(t, s.Terminal(), s)
	}
}
