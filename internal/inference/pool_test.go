// internal/inference/pool_test.go
package inference

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/volseg-service/internal/volume"
)

func TestNewMockPool(t *testing.T) {
	p, err := NewMockPool(DefaultConfig{PatchSize: 4, NumClasses: 5}, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, p.Size())
	assert.Equal(t, 4, p.Agent().PatchSize())
	assert.Equal(t, 5, p.Agent().NumClasses())

	require.NoError(t, p.Close())
	for _, a := range p.all {
		assert.True(t, a.backend.(*MockBackend).Closed)
	}
}

func TestNewPool_Invalid(t *testing.T) {
	_, err := NewPool()
	assert.Error(t, err)

	_, err = NewMockPool(DefaultConfig{}, 0)
	assert.ErrorContains(t, err, "worker count")
}

func TestPool_DoReservesAgent(t *testing.T) {
	p, err := NewMockPool(DefaultConfig{PatchSize: 2}, 1)
	require.NoError(t, err)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(*Agent) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Do(ctx, func(*Agent) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(done)
	err = p.Do(context.Background(), func(*Agent) error { return nil })
	assert.NoError(t, err)
}

func TestPool_ConcurrentVolumes(t *testing.T) {
	p, err := NewMockPool(DefaultConfig{PatchSize: 4}, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Do(context.Background(), func(a *Agent) error {
				_, err := a.InferUnpadded(context.Background(), volume.New(3, 5, 5))
				return err
			})
		}(i)
	}
	wg.Wait()

	calls := 0
	for i, err := range errs {
		assert.NoError(t, err, "volume %d", i)
	}
	for _, a := range p.all {
		calls += a.backend.(*MockBackend).Calls()
	}
	assert.Equal(t, 8*3, calls)
}
