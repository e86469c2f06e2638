package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSetGetAndTTL(t *testing.T) {
	clk := newFakeClock()
	c, err := New[string](10, WithClock(clk.Now))
	require.NoError(t, err)

	c.Set("a", "1", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	clk.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must be absent once its TTL has elapsed")
	assert.Equal(t, 0, c.Len())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New[int](2)
	require.NoError(t, err)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)
	c.Set("c", 3, 0)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used and should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestInsertingThirdKeyEvictsExactlyOne(t *testing.T) {
	c, err := New[int](2)
	require.NoError(t, err)
	c.Set("x", 1, 0)
	c.Set("y", 2, 0)
	c.Set("z", 3, 0)

	present := 0
	for _, k := range []string{"x", "y", "z"} {
		if _, ok := c.Get(k); ok {
			present++
		}
	}
	assert.Equal(t, 2, present)
}

func TestInvalidateAndClear(t *testing.T) {
	c, err := New[int](4)
	require.NoError(t, err)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c, err := New[int](10)
	require.NoError(t, err)

	var calls atomic.Int32
	start := make(chan struct{})
	const n = 32
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := c.GetOrCompute(context.Background(), "k", time.Minute, func(context.Context) (int, error) {
				calls.Add(1)
				time.Sleep(50 * time.Millisecond)
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetOrComputeSharesErrorsWithoutCaching(t *testing.T) {
	c, err := New[int](10)
	require.NoError(t, err)

	boom := errors.New("boom")
	var calls atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 0, boom
			})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, e := range errs {
		assert.ErrorIs(t, e, boom)
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	v, err := c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrComputeSurvivesCancelledStarter(t *testing.T) {
	c, err := New[string](10)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (string, error) {
		close(started)
		select {
		case <-release:
			return "value", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctxA, "k", 0, compute)
		errA <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.GetOrCompute(context.Background(), "k", 0, func(context.Context) (string, error) {
			return "", errors.New("second computation started")
		})
		resB <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "value", b.v)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestGetOrComputeTimeoutBoundsComputation(t *testing.T) {
	c, err := New[int](10, WithComputeTimeout(30*time.Millisecond))
	require.NoError(t, err)

	_, err = c.GetOrCompute(context.Background(), "k", 0, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrComputeDifferentKeysDoNotBlock(t *testing.T) {
	c, err := New[string](10)
	require.NoError(t, err)

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = c.GetOrCompute(context.Background(), "slow", 0, func(context.Context) (string, error) {
			close(slowStarted)
			<-release
			return "slow", nil
		})
	}()
	<-slowStarted

	done := make(chan struct{})
	go func() {
		v, err := c.GetOrCompute(context.Background(), "fast", 0, func(context.Context) (string, error) { return "fast", nil })
		assert.NoError(t, err)
		assert.Equal(t, "fast", v)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated key blocked behind an in-flight computation")
	}
	close(release)
}

func TestSweepRemovesExpired(t *testing.T) {
	clk := newFakeClock()
	c, err := New[int](10, WithClock(clk.Now))
	require.NoError(t, err)
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clk.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, []string{"long"}, c.Keys())
}

func TestFileStoreRoundTripDropsExpired(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "cache", "embeddings.json")

	c, err := New[[]float32](10, WithClock(clk.Now), WithStore(NewFileStore(path, "embeddings")))
	require.NoError(t, err)
	c.Set("short", []float32{1, 2}, time.Minute)
	c.Set("long", []float32{3, 4}, time.Hour)
	require.NoError(t, c.Flush(context.Background()))

	clk.Advance(10 * time.Minute)
	restored, err := New[[]float32](10, WithClock(clk.Now), WithStore(NewFileStore(path, "embeddings")))
	require.NoError(t, err)
	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := restored.Get("short")
	assert.False(t, ok)
	v, ok := restored.Get("long")
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, v)
}

func TestCorruptFileIsReportedNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c, err := New[string](10, WithStore(NewFileStore(path, "bad")))
	require.NoError(t, err)
	c.Set("a", "kept", 0)

	_, err = c.Load(context.Background())
	var ioErr *domain.CacheIOError
	require.ErrorAs(t, err, &ioErr)
	assert.False(t, domain.IsCallerVisible(err))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "kept", v)
}

func TestFlushToUnwritablePathIsCacheIOError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	c, err := New[int](10, WithStore(NewFileStore(filepath.Join(blocker, "cache.json"), "x")))
	require.NoError(t, err)
	c.Set("a", 1, 0)

	err = c.Flush(context.Background())
	assert.ErrorIs(t, err, domain.ErrCacheIO)
	assert.Equal(t, 1, c.Len())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := OpenSQLiteStore(path, "external")
	require.NoError(t, err)
	defer store.Close()

	c, err := New[map[string]int](10, WithClock(clk.Now), WithStore(store))
	require.NoError(t, err)
	c.Set("a", map[string]int{"x": 1}, time.Hour)
	c.Set("b", map[string]int{"y": 2}, time.Second)
	require.NoError(t, c.Flush(context.Background()))

	clk.Advance(time.Minute)
	restored, err := New[map[string]int](10, WithClock(clk.Now), WithStore(store))
	require.NoError(t, err)
	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, ok := restored.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v["x"])
}

func TestMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New[int](2, WithName("test"), WithMetrics(reg))
	require.NoError(t, err)
	c.Set("a", 1, 0)
	c.Get("a")
	c.Get("missing")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["skillmatch_cache_hits_total"])
	assert.True(t, names["skillmatch_cache_misses_total"])
	assert.True(t, names["skillmatch_cache_size"])

	// A second cache with the same name reuses the collectors.
	_, err = New[int](2, WithName("test"), WithMetrics(reg))
	require.NoError(t, err)
}
