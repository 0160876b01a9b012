package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Cached reads tokens from a TokenStore and refuses to hand out expired
// ones, so a dead token fails fast instead of producing a 401 round trip.
type Cached struct {
	store TokenStore
	now   func() time.Time
}

// NewCached creates a token source backed by the given store.
func NewCached(store TokenStore) *Cached {
	return &Cached{store: store, now: time.Now}
}

// AccessToken returns the stored token after a local expiry check.
// Токен проверяется без верификации подписи: подпись проверяет сервер,
// клиенту нужен только exp claim. Непарсящиеся токены считаются opaque
// и отдаются как есть.
func (c *Cached) AccessToken(ctx context.Context) (string, error) {
	token, err := c.store.Token(ctx)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Не JWT - срок жизни знает только сервер
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}

	if c.now().After(exp.Time) {
		return "", fmt.Errorf("%w: expired at %s", ErrTokenExpired, exp.Time.Format(time.RFC3339))
	}

	return token, nil
}
