package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
		TokenTTL:      15 * time.Minute,
	})

	signed, expiresIn, err := issuer.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry window: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected error validating token: %v", err)
	}
	if subject != "user-123" {
		t.Fatalf("expected subject user-123, got %q", subject)
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return issuedAt }
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
		TokenTTL:      time.Minute,
		Clock:         clock,
	})

	signed, _, err := issuer.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	late := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Minute) },
	})
	if _, err := late.ValidateToken(signed); err == nil {
		t.Fatal("expected validation of an expired token to fail")
	}
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
	})
	signed, _, err := issuer.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "beacon-auth",
		Audience:      "beacon-api",
	})
	if _, err := other.ValidateToken(signed); err == nil {
		t.Fatal("expected validation with the wrong secret to fail")
	}
}

func TestTokenIssuerRequiresSecretAndSubject(t *testing.T) {
	missingSecret := NewTokenIssuer(TokenIssuerConfig{})
	if _, _, err := missingSecret.IssueToken(context.Background(), "user-123"); err == nil {
		t.Fatal("expected issue without a signing secret to fail")
	}

	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("test-secret")})
	if _, _, err := issuer.IssueToken(context.Background(), ""); err == nil {
		t.Fatal("expected issue without a subject to fail")
	}
}
