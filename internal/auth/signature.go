// ABOUTME: HMAC-SHA256 signing and verification for webhook payloads
// ABOUTME: Signatures use the sha256=<hex> header format with constant-time comparison

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Signature errors
var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("signature mismatch")
)

// signaturePrefix is the fixed scheme prefix carried in the header.
const signaturePrefix = "sha256="

// Signer computes and verifies HMAC-SHA256 signatures over raw payload
// bytes using a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the given shared secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the signature header value for a payload.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a caller-supplied signature header against the exact raw
// body bytes. A missing header, wrong prefix, undecodable hex, or any
// mismatch is rejected; there is no fallback to unsigned processing.
func (s *Signer) Verify(body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrBadSignature
	}

	presented, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	if !hmac.Equal(presented, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
