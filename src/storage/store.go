package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrNotFound is returned by Get when no value is stored under the name.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key-value store for serialized blobs.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, name string, value []byte) error
	Remove(ctx context.Context, name string) error
	// Keys lists every stored name starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// GetJSON loads the blob stored under name and decodes it into dest.
func GetJSON(ctx context.Context, s Store, name string, dest any) error {
	data, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// SetJSON encodes value and stores it under name.
func SetJSON(ctx context.Context, s Store, name string, value any) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return s.Set(ctx, name, data)
}

// RemovePrefix deletes every key starting with prefix and returns how many were removed.
func RemovePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for i, k := range keys {
		if err := s.Remove(ctx, k); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}
