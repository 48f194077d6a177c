package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func TestJWTVerifier_Verify(t *testing.T) {
	secret := []byte("test-secret")
	v := NewJWTVerifier(secret)

	t.Run("valid token yields subject", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		userID, err := v.Verify(token)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if userID != "alice" {
			t.Errorf("Expected user 'alice', got '%s'", userID)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := v.Verify("")
		if !errors.Is(err, ErrEmptyToken) {
			t.Errorf("Expected ErrEmptyToken, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, []byte("other-secret"), jwt.MapClaims{"sub": "alice"})

		_, err := v.Verify(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := v.Verify(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, secret, jwt.MapClaims{"foo": "bar"})

		_, err := v.Verify(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.Verify("not.a.jwt")
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})
}
