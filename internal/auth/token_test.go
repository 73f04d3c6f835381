package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, err := issuer.Issue("user-1", "Avery", "editor")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Verify("Bearer " + token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Avery" || claims.Role != "editor" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	token, err := issuer.Issue("user-1", "Avery", "editor")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	issuer.now = time.Now
	if _, err := issuer.Verify("Bearer " + token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsBadInput(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)
	token, err := issuer.Issue("user-1", "Avery", "editor")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other := NewIssuer("other-secret", time.Hour)
	if _, err := other.Verify("Bearer " + token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: error = %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("missing scheme: error = %v", err)
	}
	if _, err := issuer.Verify("Bearer "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty token: error = %v", err)
	}
	tampered := strings.Replace(token, ".", "x.", 1)
	if _, err := issuer.Verify("Bearer " + tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered: error = %v", err)
	}
	if _, err := ParseToken([]byte("secret"), token+".extra"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("three parts: error = %v", err)
	}
}
