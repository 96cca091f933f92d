// Package auth verifies the credentials presented to the api and the relay.
//
// Two modes are supported. A shared token is compared verbatim and says
// nothing about who holds it. A JWT secret makes every token an HS256 JWT
// whose subject is the user it was issued to.
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongSubject = errors.New("token was issued to another user")
)

const issuer = "pairchat"

// Claims carried by issued tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Authenticator checks tokens. The zero value accepts everything.
type Authenticator struct {
	token  string
	secret []byte
}

// New returns an Authenticator. A non-empty secret takes precedence over
// token.
func New(token, secret string) *Authenticator {
	a := &Authenticator{token: token}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// Enabled reports whether tokens are checked at all.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.token != "" || a.secret != nil)
}

// Verify checks tok and returns the user it was issued to. Shared tokens
// carry no user, so the subject is empty.
func (a *Authenticator) Verify(tok string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if tok == "" {
		return "", ErrMissingToken
	}
	if a.secret == nil {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(a.token)) != 1 {
			return "", ErrInvalidToken
		}
		return "", nil
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// VerifyUser is Verify plus a check that a JWT was issued to user.
func (a *Authenticator) VerifyUser(tok, user string) error {
	sub, err := a.Verify(tok)
	if err != nil {
		return err
	}
	if sub != "" && sub != user {
		return ErrWrongSubject
	}
	return nil
}

// Issue signs a token for user valid for ttl. In shared token mode the
// shared token is returned unchanged.
func (a *Authenticator) Issue(user string, ttl time.Duration) (string, error) {
	if a.secret == nil {
		if a.token == "" {
			return "", errors.New("auth is disabled")
		}
		return a.token, nil
	}
	if user == "" {
		return "", errors.New("user is required")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: user,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
