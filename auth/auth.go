// Package auth treats token verification as a black box: a token goes in, a
// verified user id or an error comes out. Verification failure is never fatal
// to a connection; callers downgrade to an anonymous session.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("empty token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier resolves an access token to a user id.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

// JWTVerifier validates HMAC-signed JWTs and extracts the subject claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

var _ Verifier = (*JWTVerifier)(nil)

// Verify parses and validates the token, returning the subject as user id.
func (v *JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return subject, nil
}
