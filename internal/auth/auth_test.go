package auth

import (
	"testing"
	"time"

	"github.com/clearbook/exchange/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewAuthService(nil, "test-secret", time.Hour)

	token, err := s.IssueToken(&models.User{ID: 42, Username: "alice"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	userID, err := s.GetUserFromToken(token)
	if err != nil {
		t.Fatalf("GetUserFromToken failed: %v", err)
	}
	if userID != 42 {
		t.Errorf("expected user 42, got %d", userID)
	}
}

func TestTokenRejectedWithWrongSecret(t *testing.T) {
	issuer := NewAuthService(nil, "secret-a", time.Hour)
	verifier := NewAuthService(nil, "secret-b", time.Hour)

	token, err := issuer.IssueToken(&models.User{ID: 1, Username: "bob"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := verifier.GetUserFromToken(token); err == nil {
		t.Error("expected verification with the wrong secret to fail")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	s := NewAuthService(nil, "test-secret", -time.Minute)

	token, err := s.IssueToken(&models.User{ID: 1, Username: "carol"})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := s.GetUserFromToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	s := NewAuthService(nil, "test-secret", time.Hour)

	if _, err := s.GetUserFromToken("not-a-jwt"); err == nil {
		t.Error("expected garbage token to be rejected")
	}
}
