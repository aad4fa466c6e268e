package entitycache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var doctors = []scheduling.Entity{{Code: "d1", Name: "Dr. One", EntityType: scheduling.EntityDoctor}}

func TestKey_OrderIndependent(t *testing.T) {
	a := scheduling.CorrelationFilterByKey{}
	a[scheduling.EntityOrganizationUnit] = "1"
	a[scheduling.EntityInsurance] = "2"

	b := scheduling.CorrelationFilterByKey{}
	b[scheduling.EntityInsurance] = "2"
	b[scheduling.EntityOrganizationUnit] = "1"

	assert.Equal(t, Key("int-1", scheduling.EntityDoctor, a), Key("int-1", scheduling.EntityDoctor, b))
	assert.NotEqual(t, Key("int-1", scheduling.EntityDoctor, a), Key("int-2", scheduling.EntityDoctor, a))
	assert.NotEqual(t, Key("int-1", scheduling.EntityDoctor, a), Key("int-1", scheduling.EntityProcedure, a))
	assert.Equal(t,
		Key("int-1", scheduling.EntityDoctor, scheduling.CorrelationFilterByKey{scheduling.EntityInsurance: " 2 "}),
		Key("int-1", scheduling.EntityDoctor, scheduling.CorrelationFilterByKey{scheduling.EntityInsurance: "2", scheduling.EntityProcedure: ""}),
	)
}

func TestFetch_ReadThrough(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{})
	ctx := context.Background()
	var loads int32
	load := func(context.Context) ([]scheduling.Entity, error) {
		atomic.AddInt32(&loads, 1)
		return doctors, nil
	}

	got, err := cache.Fetch(ctx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{}, load)
	require.NoError(t, err)
	assert.Equal(t, doctors, got)

	got, err = cache.Fetch(ctx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{}, load)
	require.NoError(t, err)
	assert.Equal(t, doctors, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))

	_, err = cache.Fetch(ctx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{Bypass: true}, load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestFetch_EmptyResultIsCached(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{})
	var loads int
	load := func(context.Context) ([]scheduling.Entity, error) {
		loads++
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		got, err := cache.Fetch(context.Background(), scheduling.EntityInsurance, "int-1", nil, FetchOptions{}, load)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
	assert.Equal(t, 1, loads)
}

func TestFetch_RefreshRunsInBackground(t *testing.T) {
	store := cachestore.NewMemoryStore()
	cache := New(store, Options{})
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-1", nil, doctors, 0))

	fresh := []scheduling.Entity{{Code: "d2", Name: "Dr. Two"}}
	got, err := cache.Fetch(ctx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{Refresh: true}, func(context.Context) ([]scheduling.Entity, error) {
		return fresh, nil
	})
	require.NoError(t, err)
	assert.Equal(t, doctors, got)

	cache.Wait()
	got, ok, err := cache.Get(ctx, scheduling.EntityDoctor, "int-1", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fresh, got)
}

func TestFetch_BackgroundRefreshErrorIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := logging.NewWithWriter("info", &lockedWriter{mu: &mu, buf: &buf})
	cache := New(cachestore.NewMemoryStore(), Options{Logger: logger})
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-1", nil, doctors, 0))

	got, err := cache.Fetch(ctx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{Refresh: true}, func(context.Context) ([]scheduling.Entity, error) {
		return nil, errors.New("upstream down")
	})
	require.NoError(t, err)
	assert.Equal(t, doctors, got)

	cache.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "background refresh failed")
	assert.Contains(t, buf.String(), "upstream down")
}

func TestFetch_LoadErrorPropagates(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{})
	_, err := cache.Fetch(context.Background(), scheduling.EntityDoctor, "int-1", nil, FetchOptions{}, func(context.Context) ([]scheduling.Entity, error) {
		return nil, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestInvalidateAll_DropsFilteredEntries(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{})
	ctx := context.Background()
	filtered := scheduling.CorrelationFilterByKey{scheduling.EntityInsurance: "2"}
	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-1", nil, doctors, 0))
	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-1", filtered, doctors, 0))
	require.NoError(t, cache.Set(ctx, scheduling.EntityProcedure, "int-1", filtered, doctors, 0))
	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-2", filtered, doctors, 0))

	require.NoError(t, cache.InvalidateAll(ctx, scheduling.EntityDoctor, "int-1"))

	for _, filter := range []scheduling.CorrelationFilterByKey{nil, filtered} {
		_, ok, err := cache.Get(ctx, scheduling.EntityDoctor, "int-1", filter)
		require.NoError(t, err)
		assert.False(t, ok, "filter %v", filter)
	}
	_, ok, err := cache.Get(ctx, scheduling.EntityProcedure, "int-1", filtered)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = cache.Get(ctx, scheduling.EntityDoctor, "int-2", filtered)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, cache.Set(ctx, scheduling.EntityDoctor, "int-1", filtered, doctors, 0))
	got, ok, err := cache.Get(ctx, scheduling.EntityDoctor, "int-1", filtered)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doctors, got)

	require.NoError(t, cache.Invalidate(ctx, scheduling.EntityDoctor, "int-1", filtered))
	_, ok, err = cache.Get(ctx, scheduling.EntityDoctor, "int-1", filtered)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetch_SharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(ctx context.Context) ([]scheduling.Entity, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return doctors, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(firstCtx, scheduling.EntityDoctor, "int-1", nil, FetchOptions{}, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		entities []scheduling.Entity
		err      error
	}
	second := make(chan result, 1)
	go func() {
		got, err := cache.Fetch(context.Background(), scheduling.EntityDoctor, "int-1", nil, FetchOptions{}, load)
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, doctors, res.entities)

	got, ok, err := cache.Get(context.Background(), scheduling.EntityDoctor, "int-1", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doctors, got)
}

func TestTTL_PerType(t *testing.T) {
	cache := New(cachestore.NewMemoryStore(), Options{TTLs: map[scheduling.EntityType]time.Duration{
		scheduling.EntityDoctor: time.Minute,
	}})
	assert.Equal(t, time.Minute, cache.TTL(scheduling.EntityDoctor))
	assert.Equal(t, 24*time.Hour, cache.TTL(scheduling.EntityOrganizationUnit))
	assert.Greater(t, cache.TTL(scheduling.EntityOrganizationUnit), cache.TTL(scheduling.EntityDoctor))
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
