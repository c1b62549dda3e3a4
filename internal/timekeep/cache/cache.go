// Package cache is the shared key/value store behind refresh-token rotation
// and admission counters. Every replica must see the same cache for either
// to hold across instances.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get for absent or expired keys.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Incr adds one to key and returns the new value. ttl is applied only
	// when the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
