// Package auth issues and verifies bearer tokens and answers capability
// checks for authenticated actors.
package auth

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-users-backend/internal/domain"
)

const issuer = "go-users-backend"

// ErrEmptySubject is returned when a token names no actor.
var ErrEmptySubject = errors.New("auth: token has no subject")

// Claims is the JWT payload. Subject carries the actor id.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwtlib.RegisteredClaims
}

// IssueToken signs an HS256 token for subject with the given permissions.
func IssueToken(subject string, permissions []string, secret string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", ErrEmptySubject
	}
	now := time.Now()
	claims := Claims{
		Permissions: permissions,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates token and extracts its claims.
func Parse(token, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}

// ParseActor verifies token and builds the Actor it describes.
func ParseActor(token, secret string) (*domain.Actor, error) {
	claims, err := Parse(token, secret)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrEmptySubject
	}
	return domain.NewActor(claims.Subject, claims.Permissions...), nil
}
