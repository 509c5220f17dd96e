// Package model defines the persisted description of a downloadable model.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ModelType classifies a record and selects its default download directory.
type ModelType string

// Known model types.
const (
	ModelTypeCheckpoint   ModelType = "Checkpoint"
	ModelTypeVAE          ModelType = "VAE"
	ModelTypeLora         ModelType = "Lora"
	ModelTypeHypernetwork ModelType = "Hypernetwork"
	ModelTypeEmbeddings   ModelType = "Embeddings"
	ModelTypeLyCORIS      ModelType = "LyCORIS"
	ModelTypeOther        ModelType = "Other"
)

// ModelTypes lists every known type in display order.
var ModelTypes = []ModelType{
	ModelTypeCheckpoint,
	ModelTypeVAE,
	ModelTypeLora,
	ModelTypeHypernetwork,
	ModelTypeEmbeddings,
	ModelTypeLyCORIS,
	ModelTypeOther,
}

// ParseModelType matches s case-insensitively against the known types.
func ParseModelType(s string) (ModelType, error) {
	for _, t := range ModelTypes {
		if strings.EqualFold(string(t), strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown model type %q", s)
}

// DefaultDirName is the directory below the models root used for t when the
// configuration does not name one explicitly.
func (t ModelType) DefaultDirName() string {
	switch t {
	case ModelTypeCheckpoint:
		return "Stable-diffusion"
	case ModelTypeVAE:
		return "VAE"
	case ModelTypeLora:
		return "Lora"
	case ModelTypeHypernetwork:
		return "hypernetworks"
	case ModelTypeEmbeddings:
		return "embeddings"
	case ModelTypeLyCORIS:
		return "LyCORIS"
	default:
		return "other"
	}
}

// Record is one model entry in the record store.
type Record struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Type             ModelType `json:"model_type"`
	DownloadURL      string    `json:"download_url"`
	BackupURL        string    `json:"backup_url,omitempty"`
	PageURL          string    `json:"url,omitempty"`
	PreviewURL       string    `json:"preview_url,omitempty"`
	DownloadPath     string    `json:"download_path,omitempty"`
	DownloadFilename string    `json:"download_filename,omitempty"`
	Subdir           string    `json:"subdir,omitempty"`
	Description      string    `json:"description,omitempty"`
	PositivePrompts  string    `json:"positive_prompts,omitempty"`
	NegativePrompts  string    `json:"negative_prompts,omitempty"`
	Groups           []string  `json:"groups,omitempty"`
	Weight           float64   `json:"weight"`
	Location         string    `json:"location,omitempty"`
	SHA256Hash       string    `json:"sha256_hash,omitempty"`
	MD5Hash          string    `json:"md5_hash,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks the fields a record needs before it can be stored.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("record name cannot be empty")
	}
	if strings.TrimSpace(r.DownloadURL) == "" {
		return fmt.Errorf("record %q has no download url", r.Name)
	}
	if r.Type == "" {
		return fmt.Errorf("record %q has no model type", r.Name)
	}
	return nil
}

// InGroup reports whether the record belongs to group, ignoring case.
func (r *Record) InGroup(group string) bool {
	return slices.ContainsFunc(r.Groups, func(g string) bool {
		return strings.EqualFold(strings.TrimSpace(g), strings.TrimSpace(group))
	})
}

// Clone returns a copy of r that shares no slices with it.
func (r *Record) Clone() *Record {
	c := *r
	c.Groups = slices.Clone(r.Groups)
	return &c
}
