package rental

import (
	"context"
	"time"
)

// Cache namespaces used by the engines.
const (
	NamespaceAvailability = "availability"
	NamespaceRevenue      = "revenue"
)

// Cache is the memoization boundary the engines read through. Invalidation is
// explicit: the lifecycle coordinator calls InvalidateNamespace on every
// agreement mutation.
//
// Implementations: cache.Memory, cache.Redis.
type Cache interface {
	// Get decodes the cached value into dest. Reports false on a miss.
	Get(ctx context.Context, namespace, key string, dest any) (bool, error)
	Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, string, any) (bool, error)       { return false, nil }
func (NoopCache) Set(context.Context, string, string, any, time.Duration) error { return nil }
func (NoopCache) InvalidateNamespace(context.Context, string) error            { return nil }

var _ Cache = NoopCache{}
