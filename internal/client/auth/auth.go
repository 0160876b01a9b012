// Package auth supplies bearer tokens to the transport. Token acquisition
// (login, provider redirects) happens outside the sync core; this package
// only stores, validates, and hands out what the application obtained.
package auth

import (
	"context"
	"errors"
)

// Common auth errors
var (
	// ErrNoToken indicates that no token has been stored
	ErrNoToken = errors.New("no access token available")

	// ErrTokenExpired indicates that the stored token's exp claim has passed
	ErrTokenExpired = errors.New("access token expired")
)

// TokenSource выдает bearer token для запросов к серверу.
type TokenSource interface {
	// AccessToken returns the token to attach to the next request.
	AccessToken(ctx context.Context) (string, error)
}

// Static is a fixed token, useful for tests and service credentials.
type Static string

// AccessToken returns the static token as-is.
func (s Static) AccessToken(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenStore persists the current token across restarts.
// The boltdb storage implements it alongside the record store.
type TokenStore interface {
	// SaveToken stores the token, replacing any previous one
	SaveToken(ctx context.Context, token string) error

	// Token retrieves the stored token
	// Returns ErrNoToken if nothing has been stored
	Token(ctx context.Context) (string, error)

	// DeleteToken removes the stored token (logout)
	DeleteToken(ctx context.Context) error
}
