// Package auth issues and verifies the bearer JWTs accepted by the controller API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalid = errors.New("invalid token")

const (
	RoleAdmin = "admin"
	RoleNode  = "node"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Signer signs and parses HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
}

// DefaultSecret is used when no secret is configured. Override it in production.
const DefaultSecret = "change-me-secret"

func NewSigner(secret string) *Signer {
	if secret == "" {
		secret = DefaultSecret
	}
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) Generate(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
