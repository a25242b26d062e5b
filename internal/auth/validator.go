// ABOUTME: Caller credential validation for synchronous gateway dispatches
// ABOUTME: Accepts either a configured API key or a signed bearer token

package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrUnauthenticated means no presented credential validated.
var ErrUnauthenticated = errors.New("unauthenticated")

// Credential carries whatever the caller presented. Empty fields are simply
// not attempted.
type Credential struct {
	BearerToken string
	APIKey      string
}

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Roles   []string
}

// Validator authenticates callers before a dispatch is admitted.
// A nil verifier disables the token scheme; an empty key set disables the
// API key scheme. With no schemes configured every caller is rejected.
type Validator struct {
	keys     map[string]string // caller name -> key
	verifier TokenVerifier
}

// NewValidator creates a validator over the configured API keys and an
// optional token verifier.
func NewValidator(apiKeys map[string]string, verifier TokenVerifier) *Validator {
	return &Validator{keys: apiKeys, verifier: verifier}
}

// Validate checks the presented credential. API keys are compared in
// constant time. Any failure returns ErrUnauthenticated with no partial
// identity.
func (v *Validator) Validate(cred Credential) (*Identity, error) {
	if cred.APIKey != "" {
		if name, ok := v.matchAPIKey(cred.APIKey); ok {
			return &Identity{Subject: name}, nil
		}
	}

	if cred.BearerToken != "" && v.verifier != nil {
		subject, roles, err := v.verifier.Verify(cred.BearerToken)
		if err == nil {
			return &Identity{Subject: subject, Roles: roles}, nil
		}
	}

	return nil, ErrUnauthenticated
}

// matchAPIKey compares the presented key against every configured key in
// constant time, returning the matching caller name.
func (v *Validator) matchAPIKey(presented string) (string, bool) {
	var matched string
	found := false
	for name, key := range v.keys {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
			matched = name
			found = true
		}
	}
	return matched, found
}
