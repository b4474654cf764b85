package treestore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenWithRetryReconnectsAfterDrop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	listen := func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset by peer")
		}
		<-ctx.Done()
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- listenWithRetry(ctx, listen, backoff.NewConstantBackOff(time.Millisecond))
	}()

	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestListenWithRetryGivesUp(t *testing.T) {
	var calls int
	listen := func(ctx context.Context) error {
		calls++
		return errors.New("no route to host")
	}

	err := listenWithRetry(context.Background(), listen, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2))
	assert.EqualError(t, err, "no route to host")
	assert.Equal(t, 3, calls)
}

func TestListenWithRetryTreatsCleanReturnAsDrop(t *testing.T) {
	var calls int
	listen := func(ctx context.Context) error {
		calls++
		return nil
	}

	err := listenWithRetry(context.Background(), listen, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1))
	assert.EqualError(t, err, "listener stopped")
	assert.Equal(t, 2, calls)
}
