// Package blob stores write-once JSON documents under slash-separated keys.
//
// LocalStore is the authoritative payload store of a run. S3Store holds the
// best-effort remote mirror and serves as the source of the load command when
// run against object storage.
package blob

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// ErrNotFound is returned by Get for a key that holds no object.
var ErrNotFound = errors.New("blob: not found")

// Store is a key/value blob store.
type Store interface {
	// Put writes data under key, replacing any previous object. Readers never
	// observe a partially written object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Complete reports whether key holds a parseable JSON document.
//
// A truncated or corrupt object counts as missing, so callers treat it the
// same as an absent payload and fetch it again.
func Complete(ctx context.Context, s Store, key string) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return jsoniter.Valid(data), nil
}
