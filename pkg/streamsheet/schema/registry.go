package schema

import (
	"fmt"
	"reflect"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultRegistrySize bounds the default registry.
const DefaultRegistrySize = 1000

// Registry caches resolved schemas by record type so a descriptor is
// resolved once and reused by every export of that type. It is safe for
// concurrent use.
type Registry struct {
	cache  *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// RegistryStats reports cache effectiveness.
type RegistryStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// NewRegistry creates a registry holding at most size schemas; the least
// recently used schema is evicted first.
func NewRegistry(size int) (*Registry, error) {
	if size <= 0 {
		return nil, fmt.Errorf("registry size must be positive, got %d", size)
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}
	return &Registry{cache: cache}, nil
}

// Default is the process-wide registry used by Cached when no registry is
// given.
var Default = mustRegistry(DefaultRegistrySize)

func mustRegistry(size int) *Registry {
	r, err := NewRegistry(size)
	if err != nil {
		panic(err)
	}
	return r
}

// Cached returns the schema for T from reg, resolving build() on first use.
// Resolution errors are not cached. A nil reg uses Default.
func Cached[T any](reg *Registry, build func() Descriptor[T]) (*Schema[T], error) {
	if reg == nil {
		reg = Default
	}
	key := reflect.TypeFor[T]()

	if v, ok := reg.cache.Get(key); ok {
		if s, ok := v.(*Schema[T]); ok {
			reg.hits.Add(1)
			return s, nil
		}
	}
	reg.misses.Add(1)

	s, err := Resolve(build())
	if err != nil {
		return nil, err
	}
	reg.cache.Add(key, s)
	return s, nil
}

// Purge drops every cached schema.
func (r *Registry) Purge() {
	r.cache.Purge()
}

// Stats returns the hit/miss counters and entry count.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Entries: r.cache.Len(),
	}
}
