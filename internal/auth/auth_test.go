package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDisabledAcceptsAnything(t *testing.T) {
	var a *Authenticator
	if a.Enabled() {
		t.Fatalf("nil authenticator should be disabled")
	}
	if err := New("", "").VerifyUser("", "u1"); err != nil {
		t.Fatalf("disabled auth rejected: %v", err)
	}
}

func TestSharedToken(t *testing.T) {
	a := New("secret", "")
	if _, err := a.Verify("secret"); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if _, err := a.Verify("nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := a.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if err := a.VerifyUser("secret", "anyone"); err != nil {
		t.Fatalf("shared token is not bound to a user: %v", err)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	a := New("", "signing-key")
	tok, err := a.Issue("u1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	user, err := a.Verify(tok)
	if err != nil || user != "u1" {
		t.Fatalf("Verify: user=%q err=%v", user, err)
	}
	if err := a.VerifyUser(tok, "u2"); !errors.Is(err, ErrWrongSubject) {
		t.Fatalf("expected wrong subject, got %v", err)
	}
	if _, err := New("", "other-key").Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}
}

func TestJWTExpired(t *testing.T) {
	a := New("", "signing-key")
	tok, err := a.Issue("u1", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := a.Verify(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestJWTRejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		UserID:           "u1",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := New("", "signing-key").Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}
}
