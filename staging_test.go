package auth_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	auth "github.com/goliatone/go-device-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRegistrations(t *testing.T) {
	t.Run("put then get returns candidate", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()
		pending.Put(&auth.User{Username: "goliatone", Email: "g@example.com"})

		user, ok := pending.Get("goliatone")
		require.True(t, ok)
		assert.Equal(t, "g@example.com", user.Email)
	})

	t.Run("get misses unknown username", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()

		_, ok := pending.Get("nobody")
		assert.False(t, ok)
	})

	t.Run("put overwrites staged entry for same username", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()
		pending.Put(&auth.User{Username: "goliatone", RegisterCode: "111111"})
		pending.Put(&auth.User{Username: "goliatone", RegisterCode: "222222"})

		user, ok := pending.Get("goliatone")
		require.True(t, ok)
		assert.Equal(t, "222222", user.RegisterCode)
		assert.Equal(t, 1, pending.Len())
	})

	t.Run("expired entries are evicted on read", func(t *testing.T) {
		current := time.Now()
		var mu sync.Mutex
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return current
		}

		pending := auth.NewPendingRegistrations(
			auth.WithPendingTTL(5*time.Minute),
			auth.WithPendingClock(clock),
		)
		pending.Put(&auth.User{Username: "goliatone"})

		mu.Lock()
		current = current.Add(5*time.Minute + time.Second)
		mu.Unlock()

		_, ok := pending.Get("goliatone")
		assert.False(t, ok)
		assert.Equal(t, 0, pending.Len())
	})

	t.Run("take consumes the entry", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()
		pending.Put(&auth.User{Username: "goliatone"})

		_, ok := pending.Take("goliatone")
		require.True(t, ok)

		_, ok = pending.Get("goliatone")
		assert.False(t, ok)
	})

	t.Run("concurrent takes have a single winner", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()
		pending.Put(&auth.User{Username: "goliatone"})

		var wins atomic.Int32
		var wg sync.WaitGroup

		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := pending.Take("goliatone"); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("remove drops the entry", func(t *testing.T) {
		pending := auth.NewPendingRegistrations()
		pending.Put(&auth.User{Username: "goliatone"})
		pending.Remove("goliatone")

		_, ok := pending.Get("goliatone")
		assert.False(t, ok)
	})
}
