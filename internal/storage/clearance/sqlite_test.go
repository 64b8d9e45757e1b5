package clearance

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewStore(filepath.Join(t.TempDir(), "clearance.db"), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestInit_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Init(context.Background()))
}

func TestSave_UpsertKeepsSingleRecord(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.Save(ctx, "wallet-a", "t1", 0))
	clock.Advance(time.Minute)
	require.NoError(t, s.Save(ctx, "wallet-a", "t2", 0))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	rec := all["wallet-a"]
	assert.Equal(t, "t2", rec.Token)
	assert.True(t, clock.Now().Equal(rec.CreatedAt))
	assert.True(t, rec.CreatedAt.Add(DefaultTTL).Equal(rec.ExpiresAt))
	assert.True(t, rec.Valid)
}

func TestGetValid_RespectsSimulatedClock(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	_, ok, err := s.GetValid(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "wallet-a", "cf-token", 10*time.Minute))

	token, ok, err := s.GetValid(ctx, "wallet-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cf-token", token)

	clock.Advance(10*time.Minute - time.Millisecond)
	_, ok, err = s.GetValid(ctx, "wallet-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// expiresAt == now is already stale
	clock.Advance(time.Millisecond)
	_, ok, err = s.GetValid(ctx, "wallet-a")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "wallet-a", "stale hit must not delete")
	assert.False(t, all["wallet-a"].Valid)
}

func TestGetValid_ReadsThroughAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	first, err := NewStore(filepath.Join(dir, "c.db"), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.Save(ctx, "wallet-a", "persisted", 0))
	require.NoError(t, first.Close())

	second, err := NewStore(filepath.Join(dir, "c.db"), WithClock(clock.Now))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Init(ctx))

	token, ok, err := second.GetValid(ctx, "wallet-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "persisted", token)
}

func TestDelete_ReportsExistence(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(ctx, "wallet-a", "tok", 0))

	existed, err := s.Delete(ctx, "wallet-a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "wallet-a")
	require.NoError(t, err)
	assert.False(t, existed)

	_, ok, err := s.GetValid(ctx, "wallet-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired_RemovesOnlyStale(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.Save(ctx, "short-1", "a", time.Minute))
	require.NoError(t, s.Save(ctx, "short-2", "b", 2*time.Minute))
	require.NoError(t, s.Save(ctx, "long", "c", time.Hour))

	clock.Advance(2 * time.Minute)

	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, "long")

	n, err = s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSave_ConcurrentIdentities(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("wallet-%d", i%4)
			assert.NoError(t, s.Save(ctx, key, fmt.Sprintf("tok-%d", i), 0))
			_, _, err := s.GetValid(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGetValid_RacingDeleteStaysDeleted(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("wallet-%d", i)
		require.NoError(t, s.Save(ctx, key, "tok", 0))
		s.memo.Delete(key)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, err := s.GetValid(ctx, key)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Delete(ctx, key)
			assert.NoError(t, err)
		}()
		wg.Wait()

		_, ok, err := s.GetValid(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "deleted clearance %s came back", key)
	}
}

func TestSave_RejectsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.Save(context.Background(), "", "tok", 0))
	assert.Error(t, s.Save(context.Background(), "k", " ", 0))
}
