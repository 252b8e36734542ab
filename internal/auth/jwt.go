// Package auth issues and validates the bearer tokens that identify the user
// a lease is requested for.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const issuer = "llm_keypool"

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmptySecret is returned when signing without a secret
	ErrEmptySecret = errors.New("jwt secret is empty")
)

// UserClaims identifies the caller; Subject carries the user id
type UserClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the subject
func (c *UserClaims) UserID() string {
	return c.Subject
}

// GenerateUserJWT signs a token for userID valid for ttl
func GenerateUserJWT(userID string, ttl time.Duration, secret []byte) (string, int64, error) {
	if len(secret) == 0 {
		return "", 0, ErrEmptySecret
	}
	if userID == "" {
		return "", 0, fmt.Errorf("user id is required")
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, expiresAt.Unix(), nil
}

// ValidateUserJWT verifies the signature and expiry and returns the claims
func ValidateUserJWT(tokenString string, secret []byte) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}

	return claims, nil
}
