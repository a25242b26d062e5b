// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens, and role claims

package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	subject := "publisher-123"
	token, err := verifier.Generate(subject, []string{"dispatcher"}, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotSubject, gotRoles, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if gotSubject != subject {
		t.Errorf("Verify() subject = %q, want %q", gotSubject, subject)
	}
	if len(gotRoles) != 1 || gotRoles[0] != "dispatcher" {
		t.Errorf("Verify() roles = %v, want [dispatcher]", gotRoles)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt-token",
		},
		{
			name:  "malformed JWT",
			token: "header.payload.signature",
		},
		{
			name: "wrong secret",
			token: func() string {
				other, _ := NewJWTVerifier([]byte("different-secret"))
				token, _ := other.Generate("publisher-123", nil, time.Hour)
				return token
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := verifier.Verify(tt.token)
			if err == nil {
				t.Error("Verify() should have returned an error")
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	// Generate a token that expired 1 hour ago
	token, err := verifier.Generate("publisher-123", nil, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, _, err = verifier.Verify(token)
	if err == nil {
		t.Error("Verify() should have returned an error for expired token")
	}

	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_NoRoles(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("publisher-456", nil, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	subject, roles, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if subject != "publisher-456" {
		t.Errorf("Verify() subject = %q, want %q", subject, "publisher-456")
	}
	if len(roles) != 0 {
		t.Errorf("Verify() roles = %v, want empty", roles)
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(nil); err == nil {
		t.Error("NewJWTVerifier(nil) should have returned an error")
	}
}
