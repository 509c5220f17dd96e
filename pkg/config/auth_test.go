package config

import (
	"testing"

	"github.com/glorpus-work/mofetch/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAuthMap(t *testing.T) {
	tests := []struct {
		name     string
		hosts    []*HostConfig
		expected auth.HostMap
	}{
		{
			name:     "no hosts",
			hosts:    []*HostConfig{},
			expected: nil,
		},
		{
			name:     "host with no auth",
			hosts:    []*HostConfig{{Host: "example.com"}},
			expected: nil,
		},
		{
			name: "host with basic auth",
			hosts: []*HostConfig{{
				Host: "example.com",
				Auth: &AuthConfig{BasicAuth: &BasicAuth{Username: "user", Password: "pass"}},
			}},
			expected: auth.HostMap{
				"example.com": &auth.BasicAuth{Username: "user", Password: "pass"},
			},
		},
		{
			name: "host with header auth",
			hosts: []*HostConfig{{
				Host: "civitai.com",
				Auth: &AuthConfig{HeaderAuth: &HeaderAuth{Headers: map[string]string{"X-API-Key": "secret-key"}}},
			}},
			expected: auth.HostMap{
				"civitai.com": &auth.HeaderAuth{Headers: map[string]string{"X-API-Key": "secret-key"}},
			},
		},
		{
			name: "host names are lower-cased",
			hosts: []*HostConfig{
				{Host: "HuggingFace.co", Auth: &AuthConfig{BearerAuth: &BearerAuth{Token: "token123"}}},
				{Host: "files.example.com", Auth: &AuthConfig{BasicAuth: &BasicAuth{Username: "u", Password: "p"}}},
			},
			expected: auth.HostMap{
				"huggingface.co":    &auth.BearerAuth{Token: "token123"},
				"files.example.com": &auth.BasicAuth{Username: "u", Password: "p"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Hosts: tt.hosts}

			result := cfg.ToAuthMap()

			if tt.expected == nil {
				assert.Nil(t, result)
				return
			}

			require.NotNil(t, result)
			assert.Equal(t, tt.expected, result)
		})
	}
}
