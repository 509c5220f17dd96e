// Package auth provides authentication support for HTTP requests made by the
// download transports. Credentials are bound to host names.
package auth

import (
	"net/http"
	"strings"
)

// Authenticator defines the interface for applying authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request) error
	Type() Type
}

// BasicAuth represents HTTP Basic Authentication credentials.
type BasicAuth struct {
	Username string
	Password string
}

// HeaderAuth represents authentication via custom HTTP headers.
type HeaderAuth struct {
	Headers map[string]string
}

// BearerAuth represents Bearer token authentication.
type BearerAuth struct {
	Token string
}

// Type represents the type of authentication.
type Type string

// Authentication types.
const (
	BasicAuthType  Type = "basic"
	HeaderAuthType Type = "header"
	BearerAuthType Type = "bearer"
)

// Apply adds Basic Authentication headers to the HTTP request.
func (b BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Type returns BasicAuthType.
func (b BasicAuth) Type() Type { return BasicAuthType }

// Apply adds custom headers to the HTTP request.
func (h HeaderAuth) Apply(req *http.Request) error {
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	return nil
}

// Type returns HeaderAuthType.
func (h HeaderAuth) Type() Type { return HeaderAuthType }

// Apply adds a Bearer token to the Authorization header of the HTTP request.
func (b BearerAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// Type returns BearerAuthType.
func (b BearerAuth) Type() Type { return BearerAuthType }

// HostMap maps lower-cased host names to their credentials.
type HostMap map[string]Authenticator

// Lookup finds the authenticator for host. An exact match wins; otherwise the
// closest parent domain is used, so "example.com" also covers "cdn.example.com".
func (m HostMap) Lookup(host string) (Authenticator, bool) {
	if len(m) == 0 {
		return nil, false
	}
	host = strings.ToLower(host)
	for host != "" {
		if a, ok := m[host]; ok {
			return a, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return nil, false
}

// Apply authenticates req with the credentials bound to its host, if any.
func (m HostMap) Apply(req *http.Request) error {
	if req.URL == nil {
		return nil
	}
	a, ok := m.Lookup(req.URL.Hostname())
	if !ok {
		return nil
	}
	return a.Apply(req)
}
