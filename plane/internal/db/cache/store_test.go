package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"minerfleet/plane/internal/db/database"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* fakeClock 可手动推进的时钟 */
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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

/*
storeContract 两种 Store 实现必须满足的共同行为
advance 推进该实现所用的时间源
*/
func storeContract(t *testing.T, store Store, advance func(time.Duration)) {
	ctx := context.Background()

	t.Run("get miss", func(t *testing.T) {
		_, err := store.Get(ctx, "nothing")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("set get exists delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "device:m-1", []byte(`{"id":"m-1"}`), 0))
		got, err := store.Get(ctx, "device:m-1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"m-1"}`, string(got))

		ok, err := store.Exists(ctx, "device:m-1")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, store.Delete(ctx, "device:m-1"))
		ok, err = store.Exists(ctx, "device:m-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ttl expiry behaves as miss", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "device:status:m-2", []byte(`1`), time.Second))
		_, err := store.Get(ctx, "device:status:m-2")
		require.NoError(t, err)

		advance(1100 * time.Millisecond)

		_, err = store.Get(ctx, "device:status:m-2")
		assert.ErrorIs(t, err, ErrMiss)
		ok, err := store.Exists(ctx, "device:status:m-2")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete pattern", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "device:status:a", []byte(`1`), time.Minute))
		require.NoError(t, store.Set(ctx, "device:status:b", []byte(`1`), time.Minute))
		require.NoError(t, store.Set(ctx, "device:a", []byte(`1`), 0))
		require.NoError(t, store.Set(ctx, "job:x", []byte(`1`), 0))

		n, err := store.DeletePattern(ctx, "device:status:")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ok, _ := store.Exists(ctx, "device:a")
		assert.True(t, ok, "前缀外的键不应被删除")
		ok, _ = store.Exists(ctx, "job:x")
		assert.True(t, ok)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	clock := newFakeClock()
	storeContract(t, NewMemoryStoreWithClock(clock.Now), clock.Advance)
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	storeContract(t, NewRedisStore(database.NewRedisClientFrom(client)), mr.FastForward)
}

func TestMemoryStoreRealClockExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), 50*time.Millisecond))

	time.Sleep(80 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("1"), 0))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", buf, 0))
	buf[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	const workers, rounds = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				key := fmt.Sprintf("device:status:w%d-%d", w, i%10)
				assert.NoError(t, store.Set(ctx, key, []byte(`{"online":true}`), time.Minute))
				if got, err := store.Get(ctx, key); err == nil {
					assert.JSONEq(t, `{"online":true}`, string(got))
				} else {
					assert.ErrorIs(t, err, ErrMiss, "只可能被并发的 DeletePattern 删除")
				}
				if i%25 == 0 {
					_, err := store.DeletePattern(ctx, "device:status:")
					assert.NoError(t, err)
				}
				_, err := store.Exists(ctx, key)
				assert.NoError(t, err)
				assert.NoError(t, store.Set(ctx, fmt.Sprintf("job:w%d", w), []byte("1"), 0))
			}
		}(w)
	}
	wg.Wait()

	_, err := store.DeletePattern(ctx, "device:status:")
	require.NoError(t, err)
	assert.Equal(t, workers, store.Len(), "只剩每个 worker 的 job 键")
}
