package config

import (
	"strings"

	"github.com/glorpus-work/mofetch/pkg/auth"
)

// AuthConfigContainer defines the interface for authentication configuration types that can be converted to an Authenticator.
type AuthConfigContainer interface {
	ToAuthenticator() auth.Authenticator
}

// AuthConfig holds the authentication configuration for one host.
type AuthConfig struct {
	BasicAuth  *BasicAuth  `yaml:"basic,omitempty"`
	HeaderAuth *HeaderAuth `yaml:"header,omitempty"`
	BearerAuth *BearerAuth `yaml:"bearer,omitempty"`
}

// BasicAuth holds configuration for HTTP Basic Authentication.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HeaderAuth holds configuration for custom header-based authentication.
type HeaderAuth struct {
	Headers map[string]string `yaml:"headers"`
}

// BearerAuth holds configuration for Bearer token authentication.
type BearerAuth struct {
	Token string `yaml:"token"`
}

// ToAuthenticator converts the BasicAuth configuration to an Authenticator.
func (b *BasicAuth) ToAuthenticator() auth.Authenticator {
	return &auth.BasicAuth{
		Username: b.Username,
		Password: b.Password,
	}
}

// ToAuthenticator converts the HeaderAuth configuration to an Authenticator.
func (h *HeaderAuth) ToAuthenticator() auth.Authenticator {
	return &auth.HeaderAuth{
		Headers: h.Headers,
	}
}

// ToAuthenticator converts the BearerAuth configuration to an Authenticator.
func (b *BearerAuth) ToAuthenticator() auth.Authenticator {
	return &auth.BearerAuth{
		Token: b.Token,
	}
}

// ToAuthMap converts the host credentials to a map of lower-cased host names to Authenticators.
// Hosts without credentials are skipped. Returns nil if nothing is configured.
func (c *Config) ToAuthMap() auth.HostMap {
	results := make(auth.HostMap, len(c.Hosts))
	for _, h := range c.Hosts {
		if h == nil || h.Auth == nil {
			continue
		}
		key := strings.ToLower(h.Host)
		switch {
		case h.Auth.BasicAuth != nil:
			results[key] = h.Auth.BasicAuth.ToAuthenticator()
		case h.Auth.HeaderAuth != nil:
			results[key] = h.Auth.HeaderAuth.ToAuthenticator()
		case h.Auth.BearerAuth != nil:
			results[key] = h.Auth.BearerAuth.ToAuthenticator()
		}
	}

	if len(results) == 0 {
		return nil
	}
	return results
}
