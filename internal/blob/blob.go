// Package blob stores raw document payloads until extraction consumes them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no payload exists for a key.
var ErrNotFound = errors.New("blob not found")

// Store persists opaque payloads under string keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Key builds the storage key of a document's raw payload.
func Key(spaceID, documentID string) string {
	return "raw/" + spaceID + "/" + documentID
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("blob: key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return nil
}
