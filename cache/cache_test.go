package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/rental"
)

type cachedResult struct {
	UnitID    string          `json:"unit_id"`
	Available bool            `json:"available"`
	Revenue   decimal.Decimal `json:"revenue"`
}

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedis(context.Background(), config.Redis{Address: mr.Addr(), KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

// implementations runs the same contract against both caches.
func implementations(t *testing.T) map[string]rental.Cache {
	redisCache, _ := setupRedis(t)
	return map[string]rental.Cache{
		"memory": NewMemory(),
		"redis":  redisCache,
	}
}

func TestCache_SetAndGet(t *testing.T) {
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			expected := cachedResult{UnitID: "unit-1", Available: true, Revenue: decimal.RequireFromString("70.97")}

			require.NoError(t, c.Set(ctx, rental.NamespaceAvailability, "k1", expected, time.Minute))

			var actual cachedResult
			found, err := c.Get(ctx, rental.NamespaceAvailability, "k1", &actual)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, expected.UnitID, actual.UnitID)
			assert.True(t, expected.Revenue.Equal(actual.Revenue))
		})
	}
}

func TestCache_Miss(t *testing.T) {
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			var out cachedResult
			found, err := c.Get(context.Background(), rental.NamespaceRevenue, "missing", &out)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestCache_InvalidateNamespace_LeavesOtherNamespaces(t *testing.T) {
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			// GIVEN: entries in both namespaces
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, rental.NamespaceAvailability, "a", 1, time.Minute))
			require.NoError(t, c.Set(ctx, rental.NamespaceAvailability, "b", 2, time.Minute))
			require.NoError(t, c.Set(ctx, rental.NamespaceRevenue, "a", 3, time.Minute))

			// WHEN: availability is invalidated
			require.NoError(t, c.InvalidateNamespace(ctx, rental.NamespaceAvailability))

			// THEN: only availability entries are gone
			var out int
			found, err := c.Get(ctx, rental.NamespaceAvailability, "a", &out)
			require.NoError(t, err)
			assert.False(t, found)

			found, err = c.Get(ctx, rental.NamespaceRevenue, "a", &out)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, 3, out)
		})
	}
}

func TestRedis_TTLExpires(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, rental.NamespaceRevenue, "proj", "x", time.Second))
	mr.FastForward(2 * time.Second)

	var out string
	found, err := c.Get(ctx, rental.NamespaceRevenue, "proj", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_InvalidJSON(t *testing.T) {
	c, mr := setupRedis(t)
	require.NoError(t, mr.Set("test:revenue:bad", "not-json"))

	var out cachedResult
	found, err := c.Get(context.Background(), rental.NamespaceRevenue, "bad", &out)
	require.Error(t, err)
	assert.False(t, found)
}

func TestRedis_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedis(context.Background(), config.Redis{Address: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, rental.IsRetryable(err))
}

func TestMemory_TTLExpires(t *testing.T) {
	c := NewMemory()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, rental.NamespaceAvailability, "k", true, time.Minute))
	now = now.Add(2 * time.Minute)

	var out bool
	found, err := c.Get(ctx, rental.NamespaceAvailability, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, c.Len(rental.NamespaceAvailability))
}
