package xcache

import (
	"context"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"

	"github.com/wuxler/pincer/pkg/util/xgeneric"
)

const (
	defaultCapacity = 4096
	defaultTTL      = time.Hour
)

// NewMemory returns a new cache implementation based on memory.
func NewMemory[T any]() Cache[T] {
	cache, err := otter.MustBuilder[string, T](defaultCapacity).
		WithTTL(defaultTTL).
		Build()
	if err != nil {
		panic(err)
	}
	return &memoryCacheImpl[T]{
		cache: cache,
	}
}

type memoryCacheImpl[T any] struct {
	cache     otter.Cache[string, T]
	loadGroup singleflight.Group
}

type loadResult[T any] struct {
	value T
	ok    bool
}

// Get returns the value of the key. When a loader is supplied, concurrent
// loads for the same key are deduplicated and share one result.
func (s *memoryCacheImpl[T]) Get(ctx context.Context, key string, options ...Option[T]) (T, bool) {
	o := MakeOptions(options...)
	v, ok := s.cache.Get(key)
	if ok {
		return v, true
	}
	loaded, _, _ := s.loadGroup.Do(key, func() (interface{}, error) {
		value, ok := o.Loader(ctx, key)
		if ok {
			s.cache.Set(key, value)
		}
		return loadResult[T]{value: value, ok: ok}, nil
	})
	result, ok := loaded.(loadResult[T])
	if !ok || !result.ok {
		return xgeneric.ZeroValue[T](), false
	}
	return result.value, true
}

// Set saves the value of the key.
func (s *memoryCacheImpl[T]) Set(_ context.Context, key string, value T, options ...Option[T]) {
	s.cache.Set(key, value)
}

// Delete removes the value of the key.
func (s *memoryCacheImpl[T]) Delete(_ context.Context, key string) {
	s.cache.Delete(key)
}
