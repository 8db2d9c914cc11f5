// Package authn extracts pinning credentials from incoming registry requests.
//
// Credentials ride on the standard registry authentication surface so that
// stock clients work unchanged. A docker login password or a bearer token is
// treated as the wallet private key used to fund remote pinning.
package authn

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const redactedKeyLen = 6

// Credential is a normalized private key extracted from a request. The zero
// value means anonymous. Credentials are comparable and safe to use as cache
// keys.
type Credential struct {
	key string
}

// NewCredential normalizes raw key material into a Credential. Whitespace is
// trimmed and a "0x" prefix is added when absent. An empty key yields the
// anonymous credential.
func NewCredential(key string) Credential {
	key = strings.TrimSpace(key)
	if key == "" {
		return Credential{}
	}
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}
	return Credential{key: key}
}

// Key returns the normalized private key.
func (c Credential) Key() string {
	return c.key
}

// IsZero returns true for the anonymous credential.
func (c Credential) IsZero() bool {
	return c.key == ""
}

// String implements fmt.Stringer with the key material redacted so that
// credentials are loggable.
func (c Credential) String() string {
	if c.key == "" {
		return "<anonymous>"
	}
	if len(c.key) <= redactedKeyLen {
		return "****"
	}
	return c.key[:redactedKeyLen] + "****"
}

// Parse extracts a Credential from an "Authorization" header value.
//
// For "Basic" the decoded password is the key; when the password is empty the
// whole decoded value is used, which lets clients pass a bare key without
// inventing a username. For "Bearer" the token is the key. A missing or
// unparseable header yields (Credential{}, false).
func Parse(header string) (Credential, bool) {
	scheme, params, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return Credential{}, false
	}
	params = strings.TrimSpace(params)
	switch {
	case strings.EqualFold(scheme, "basic"):
		decoded, err := base64.StdEncoding.DecodeString(params)
		if err != nil {
			return Credential{}, false
		}
		_, password, ok := strings.Cut(string(decoded), ":")
		key := password
		if !ok || password == "" {
			key = string(decoded)
		}
		cred := NewCredential(key)
		return cred, !cred.IsZero()
	case strings.EqualFold(scheme, "bearer"):
		cred := NewCredential(params)
		return cred, !cred.IsZero()
	}
	return Credential{}, false
}

// FromRequest extracts a Credential from the request's "Authorization" header.
func FromRequest(req *http.Request) (Credential, bool) {
	return Parse(req.Header.Get("Authorization"))
}
