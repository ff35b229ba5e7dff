package offload_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitboxcache/hitbox/offload"
)

func TestSpawnRunsTaskAsync(t *testing.T) {
	m := offload.New(offload.None())
	done := make(chan struct{})
	ok := m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	m.WaitAll()
	snap := m.Snapshot("revalidate")
	assert.EqualValues(t, 1, snap.Spawned)
	assert.EqualValues(t, 1, snap.Succeeded)
}

func TestSpawnDedupesSameKey(t *testing.T) {
	m := offload.New(offload.None())
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex

	ok1 := m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-release
		return nil
	})
	require.True(t, ok1)

	<-started
	ok2 := m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	assert.False(t, ok2, "second spawn for an in-flight key must be dropped")

	close(release)
	m.WaitAll()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)

	snap := m.Snapshot("revalidate")
	assert.EqualValues(t, 1, snap.Deduped)
}

func TestSpawnWithoutKeyNeverDedupes(t *testing.T) {
	m := offload.New(offload.None())
	var n int32
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	wg.Add(3)
	for i := 0; i < 3; i++ {
		ok := m.Spawn("warmup", "", func(ctx context.Context) error {
			mu.Lock()
			n++
			mu.Unlock()
			wg.Done()
			return nil
		})
		require.True(t, ok)
	}
	wg.Wait()
	m.WaitAll()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(3), n)
}

func TestCancelPolicyAbortsTaskContext(t *testing.T) {
	m := offload.New(offload.Cancel(10 * time.Millisecond))
	var sawDone bool
	done := make(chan struct{})
	m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		<-ctx.Done()
		sawDone = true
		close(done)
		return ctx.Err()
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancellation never observed")
	}
	m.WaitAll()
	assert.True(t, sawDone)
	snap := m.Snapshot("revalidate")
	assert.EqualValues(t, 1, snap.TimedOut)
	assert.EqualValues(t, 1, snap.Failed)
}

func TestFailedTaskIncrementsFailedCounter(t *testing.T) {
	m := offload.New(offload.None())
	m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		return errors.New("upstream unavailable")
	})
	m.WaitAll()
	snap := m.Snapshot("revalidate")
	assert.EqualValues(t, 1, snap.Failed)
	assert.EqualValues(t, 0, snap.Succeeded)
}

func TestCancelAllStopsInFlightTasks(t *testing.T) {
	m := offload.New(offload.None())
	started := make(chan struct{})
	m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	assert.Equal(t, 1, m.ActiveTaskCount())
	m.CancelAll()
	m.WaitAll()
	assert.Equal(t, 0, m.ActiveTaskCount())
}

func TestDisabledManagerNeverRuns(t *testing.T) {
	m := offload.Disabled()
	assert.False(t, m.Available())
	ran := false
	ok := m.Spawn("revalidate", "k1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ok)
	assert.False(t, ran)
}

func TestWithConcurrencyLimitSerializesExcessTasks(t *testing.T) {
	m := offload.New(offload.None()).WithConcurrencyLimit(1)
	var active int32
	var maxActive int32
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	wg.Add(3)
	for i := 0; i < 3; i++ {
		m.Spawn("warmup", "", func(ctx context.Context) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			wg.Done()
			return nil
		})
	}
	wg.Wait()
	m.WaitAll()
	assert.EqualValues(t, 1, maxActive, "concurrency limit of 1 must serialize tasks")
}

func TestInFlightEntryRemovedAfterCompletion(t *testing.T) {
	m := offload.New(offload.None())
	m.Spawn("revalidate", "k1", func(ctx context.Context) error { return nil })
	m.WaitAll()
	assert.Equal(t, 0, m.ActiveTaskCount())

	ok := m.Spawn("revalidate", "k1", func(ctx context.Context) error { return nil })
	assert.True(t, ok, "the same key should be spawnable again once the prior task finished")
	m.WaitAll()
}
