package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedUnique([]string{"c", "a", "b", "a"}))
	assert.Empty(t, SortedUnique(nil))
}

func TestKeyedMutex_DistinctKeysDoNotContend(t *testing.T) {
	k := NewKeyedMutex()
	ctx := context.Background()

	u1, err := k.LockContext(ctx, "acc_a")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	u2, err := k.LockContext(tctx, "acc_b")
	require.NoError(t, err)

	u2()
	u1()
	assert.Equal(t, 0, k.Held())
}

func TestKeyedMutex_SameKeyBlocksUntilRelease(t *testing.T) {
	k := NewKeyedMutex()

	unlock, err := k.LockContext(context.Background(), "acc_a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = k.LockContext(ctx, "acc_a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	// Calling unlock twice must not release someone else's hold.
	unlock()
	assert.Equal(t, 0, k.Held())
}

func TestKeyedMutex_LockAllOppositeOrderNoDeadlock(t *testing.T) {
	k := NewKeyedMutex()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock, err := k.LockAll(ctx, "acc_a", "acc_b")
			if err != nil {
				t.Errorf("lock a,b: %v", err)
				return
			}
			mu.Lock()
			total++
			mu.Unlock()
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock, err := k.LockAll(ctx, "acc_b", "acc_a")
			if err != nil {
				t.Errorf("lock b,a: %v", err)
				return
			}
			mu.Lock()
			total++
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, total)
	assert.Equal(t, 0, k.Held())
}

func TestKeyedMutex_LockAllReleasesOnCancel(t *testing.T) {
	k := NewKeyedMutex()

	holdB, err := k.LockContext(context.Background(), "acc_b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = k.LockAll(ctx, "acc_b", "acc_a")
	require.Error(t, err)

	// acc_a was taken first and must have been released again.
	ua, err := k.LockContext(context.Background(), "acc_a")
	require.NoError(t, err)
	ua()
	holdB()
}
