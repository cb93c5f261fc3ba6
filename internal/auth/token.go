// ABOUTME: JWT session token verification for authenticating API and gateway requests
// ABOUTME: HS256 tokens carry the handle and a jwt index checked against the stored identity

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/askbox/askbox/internal/store"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrRevokedToken = errors.New("token revoked")
)

// TokenVerifier defines the interface for session token verification.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (handle string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs. Every token
// carries the identity's jwt index at signing time; bumping the stored index
// revokes all previously issued tokens at once.
type JWTVerifier struct {
	secret []byte
	store  store.Store
}

// NewJWTVerifier creates a verifier backed by the identity store.
func NewJWTVerifier(secret []byte, st store.Store) *JWTVerifier {
	return &JWTVerifier{secret: secret, store: st}
}

// Verify validates the token, extracts the handle, and rejects tokens whose
// jwt index no longer matches the stored identity.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	handle, ok := claims["handle"].(string)
	if !ok || handle == "" {
		return "", fmt.Errorf("%w: handle", ErrMissingClaim)
	}

	// Numeric JSON claims decode as float64
	jwtIndex, ok := claims["jwt_index"].(float64)
	if !ok {
		return "", fmt.Errorf("%w: jwt_index", ErrMissingClaim)
	}

	ident, err := v.store.GetIdentity(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: unknown handle", ErrInvalidToken)
	}
	if err != nil {
		return "", fmt.Errorf("loading identity: %w", err)
	}

	if int64(jwtIndex) != ident.JWTIndex {
		return "", ErrRevokedToken
	}

	return handle, nil
}

// Generate creates a session token for the handle, bound to the identity's
// current jwt index.
func (v *JWTVerifier) Generate(ctx context.Context, handle string, expiresIn time.Duration) (string, error) {
	ident, err := v.store.GetIdentity(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("loading identity: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"handle":    handle,
		"jwt_index": ident.JWTIndex,
		"iat":       now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
