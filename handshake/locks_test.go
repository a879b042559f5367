package handshake

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_AcquireRelease(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "ride-1", time.Second)
	require.NoError(t, err)
	release()

	// Reacquire after release
	release, err = km.Acquire(ctx, "ride-1", time.Second)
	require.NoError(t, err)
	release()
}

func TestKeyedMutex_ContentionTimesOut(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release, err := km.Acquire(ctx, "ride-1", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = km.Acquire(ctx, "ride-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestKeyedMutex_DifferentKeysDontContend(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	r1, err := km.Acquire(ctx, "ride-1", time.Second)
	require.NoError(t, err)
	defer r1()

	r2, err := km.Acquire(ctx, "ride-2", 20*time.Millisecond)
	require.NoError(t, err, "unrelated rides must settle in parallel")
	r2()
}

func TestKeyedMutex_ContextCancelAbortsWait(t *testing.T) {
	km := NewKeyedMutex()

	release, err := km.Acquire(context.Background(), "ride-1", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = km.Acquire(ctx, "ride-1", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedMutex_DiscardsIdleKeys(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Acquire(ctx, "ride-1", time.Second)
			if err != nil {
				return
			}
			release()
		}()
	}
	wg.Wait()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.keys, "released keys must not accumulate")
}
