// Package kvstore provides the durable string key/value stores the template
// store persists through.
package kvstore

import (
	"context"
	"errors"
)

var ErrInvalidKey = errors.New("invalid key")

// KVStore reports ok=false for a key that was never set.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}
