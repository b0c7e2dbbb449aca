// Package auth resolves bearer tokens into the identity of the caller.
// Tokens are issued elsewhere; this package only verifies them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/serroba/online-diagrams/internal/apperr"
)

var (
	ErrMissingToken = fmt.Errorf("%w: missing token", apperr.ErrUnauthenticated)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
}

// Resolver turns a raw token into an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Claims are the token fields the collaboration server relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver verifies HS256 tokens signed with a shared secret.
type JWTResolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTResolver creates a resolver for tokens signed with secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Resolve validates the token signature and expiry and returns the subject.
func (r *JWTResolver) Resolve(_ context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := r.parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, errors.New("empty subject"))
	}

	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
