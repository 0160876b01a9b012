package boltdb

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/offlinekit/tablesync/internal/client/auth"
)

// bucketAuth хранит текущий access token
var (
	bucketAuth = []byte("auth")
	tokenKey   = []byte("current")
)

// SaveToken stores the access token, replacing any previous one
func (s *Storage) SaveToken(ctx context.Context, token string) error {
	if s.db == nil {
		return fmt.Errorf("storage is closed")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketAuth)
		if err != nil {
			return fmt.Errorf("failed to create auth bucket: %w", err)
		}

		if err := bucket.Put(tokenKey, []byte(token)); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		return nil
	})
}

// Token retrieves the stored access token
func (s *Storage) Token(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", fmt.Errorf("storage is closed")
	}

	var token string

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return auth.ErrNoToken
		}

		data := bucket.Get(tokenKey)
		if data == nil {
			return auth.ErrNoToken
		}

		token = string(data)
		return nil
	})

	if err != nil {
		return "", err
	}

	return token, nil
}

// DeleteToken removes the stored access token (logout)
func (s *Storage) DeleteToken(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("storage is closed")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return nil
		}

		if err := bucket.Delete(tokenKey); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}

		return nil
	})
}
