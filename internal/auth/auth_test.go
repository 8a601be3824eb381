package auth

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndVerify(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)

	raw, err := tokens.Mint("user-42", "member")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	claims, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("Subject = %q, want user-42", claims.Subject)
	}
	if claims.Role != "member" {
		t.Fatalf("Role = %q, want member", claims.Role)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := NewTokens("secret-a", time.Hour).Mint("user-1", "")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, err := NewTokens("secret-b", time.Hour).Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	tokens := NewTokens("test-secret", -time.Minute)
	raw, err := tokens.Mint("user-1", "")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	if _, err := tokens.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestMintRejectsEmptyUser(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	if _, err := tokens.Mint("", "member"); err == nil {
		t.Fatalf("Mint() error = nil, want error for empty user")
	}
}
