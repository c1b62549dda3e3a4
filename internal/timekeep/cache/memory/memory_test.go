package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache/memory"
)

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := memory.New(clock)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "k", "v1", time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	require.NoError(t, c.Set(ctx, "k", "v2", time.Minute))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", got, "set overwrites")

	require.NoError(t, c.Delete(ctx, "k", "absent"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := memory.New(clock)

	require.NoError(t, c.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))

	clock.Advance(59 * time.Second)
	_, err := c.Get(ctx, "short")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = c.Get(ctx, "short")
	require.ErrorIs(t, err, cache.ErrMiss)

	clock.Advance(24 * time.Hour)
	_, err = c.Get(ctx, "forever")
	require.NoError(t, err)
}

func TestIncrKeepsFirstTTL(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := memory.New(clock)

	n, err := c.Incr(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	clock.Advance(30 * time.Second)
	n, err = c.Incr(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// Expiry stays anchored to the first increment.
	clock.Advance(30 * time.Second)
	n, err = c.Incr(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestIncrConcurrent(t *testing.T) {
	ctx := context.Background()
	c := memory.New(nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "ctr", time.Minute)
		}()
	}
	wg.Wait()

	got, err := c.Get(ctx, "ctr")
	require.NoError(t, err)
	require.Equal(t, "50", got)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := memory.New(clock)

	require.NoError(t, c.Set(ctx, "a", "v", time.Second))
	require.NoError(t, c.Set(ctx, "b", "v", time.Hour))
	clock.Advance(time.Minute)

	require.Equal(t, 1, c.Sweep())
	_, err := c.Get(ctx, "b")
	require.NoError(t, err)
}
