package boltdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/tablesync/internal/client/auth"
)

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)

	require.NoError(t, s.SaveToken(ctx, "token-1"))

	got, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", got)

	// Повторное сохранение замещает токен
	require.NoError(t, s.SaveToken(ctx, "token-2"))
	got, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", got)

	require.NoError(t, s.DeleteToken(ctx))
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, auth.ErrNoToken)

	// Logout без токена не является ошибкой
	assert.NoError(t, s.DeleteToken(ctx))
}
