package xcache

import (
	"context"
)

// NewDiscard returns a new cache implementation which discard all oprations.
func NewDiscard[T any]() Cache[T] {
	return discardCacheImpl[T]{}
}

type discardCacheImpl[T any] struct {
}

// Get always misses and falls through to the loader when one is supplied.
func (s discardCacheImpl[T]) Get(ctx context.Context, key string, options ...Option[T]) (T, bool) {
	o := MakeOptions(options...)
	return o.Loader(ctx, key)
}

// Set discards the value.
func (s discardCacheImpl[T]) Set(_ context.Context, key string, value T, options ...Option[T]) {
}

// Delete discards the operation.
func (s discardCacheImpl[T]) Delete(_ context.Context, key string) {
}
