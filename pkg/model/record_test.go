package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelType(t *testing.T) {
	mt, err := ParseModelType("lora")
	require.NoError(t, err)
	assert.Equal(t, ModelTypeLora, mt)

	mt, err = ParseModelType(" CHECKPOINT ")
	require.NoError(t, err)
	assert.Equal(t, ModelTypeCheckpoint, mt)

	_, err = ParseModelType("unet")
	assert.Error(t, err)
}

func TestModelType_DefaultDirName(t *testing.T) {
	assert.Equal(t, "Stable-diffusion", ModelTypeCheckpoint.DefaultDirName())
	assert.Equal(t, "embeddings", ModelTypeEmbeddings.DefaultDirName())
	assert.Equal(t, "other", ModelType("Custom").DefaultDirName())
}

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		wantErr bool
	}{
		{"valid", Record{Name: "m", DownloadURL: "https://x/m.pt", Type: ModelTypeLora}, false},
		{"no name", Record{DownloadURL: "https://x/m.pt", Type: ModelTypeLora}, true},
		{"no url", Record{Name: "m", Type: ModelTypeLora}, true},
		{"no type", Record{Name: "m", DownloadURL: "https://x/m.pt"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRecord_InGroupAndClone(t *testing.T) {
	r := &Record{Name: "m", Groups: []string{"Anime", "styles"}}
	assert.True(t, r.InGroup("anime"))
	assert.True(t, r.InGroup("Styles"))
	assert.False(t, r.InGroup("photo"))

	c := r.Clone()
	c.Groups[0] = "changed"
	assert.Equal(t, "Anime", r.Groups[0])
}
