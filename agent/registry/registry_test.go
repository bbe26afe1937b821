package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAbortAll(t *testing.T) {
	r := New(zap.NewNop().Sugar())

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	r.Register(cancel1)
	r.Register(cancel2)
	require.Equal(t, 2, r.Len())

	assert.Equal(t, 2, r.AbortAll())
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)

	// aborting does not clear the list, sessions remove themselves
	assert.Equal(t, 2, r.Len())

	// aborting handles that are already canceled is harmless
	assert.Equal(t, 2, r.AbortAll())
}

func TestUnregister(t *testing.T) {
	r := New(nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	h1 := r.Register(cancel1)
	h2 := r.Register(cancel2)
	assert.NotEqual(t, h1.ID, h2.ID)

	r.Unregister(h1)
	assert.Equal(t, 1, r.Len())
	r.Unregister(h1)
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 1, r.AbortAll())
	assert.NoError(t, ctx1.Err())
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)

	r.Unregister(h2)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.AbortAll())
}

func TestConcurrentRegister(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, cancel := context.WithCancel(context.Background())
			h := r.Register(cancel)
			r.AbortAll()
			r.Unregister(h)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
