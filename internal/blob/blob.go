// Package blob stores original and filled PDF bytes.
package blob

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned by Get for an unknown key.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("blob: already exists")
)

// Store holds opaque byte objects by key. Writes are all-or-nothing: a
// reader never observes a partially written object.
type Store interface {
	// Create writes a new object and fails with ErrExists if key is taken.
	Create(ctx context.Context, key string, data []byte) error
	// Put writes or atomically replaces an object.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// OriginalKey is where a document's uploaded PDF is kept.
func OriginalKey(documentID string) string {
	return "originals/" + documentID + ".pdf"
}

// OutputKey is where a document's filled PDF is kept.
func OutputKey(documentID string) string {
	return "filled/" + documentID + ".pdf"
}

func validateKey(key string) error {
	switch {
	case key == "":
		return eris.New("blob: empty key")
	case strings.ContainsRune(key, 0):
		return eris.Errorf("blob: key %q contains NUL", key)
	case strings.HasPrefix(key, "/"):
		return eris.Errorf("blob: key %q must be relative", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || part == "" {
			return eris.Errorf("blob: key %q has an invalid segment", key)
		}
	}
	return nil
}
