package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
)

func TestAcquireGrantsUpToConcurrencyLimit(t *testing.T) {
	m := New(Config{UserConcurrency: 2})
	ctx := context.Background()

	_, release1, err := m.Acquire(ctx, model.PriorityUser, "a", nil)
	require.NoError(t, err)
	_, release2, err := m.Acquire(ctx, model.PriorityUser, "b", nil)
	require.NoError(t, err)

	thirdGranted := make(chan struct{})
	go func() {
		_, release3, err := m.Acquire(ctx, model.PriorityUser, "c", nil)
		if err == nil {
			release3()
			close(thirdGranted)
		}
	}()

	select {
	case <-thirdGranted:
		t.Fatal("third acquire should not have been granted while two slots are held")
	case <-time.After(50 * time.Millisecond):
	}

	release1()

	select {
	case <-thirdGranted:
	case <-time.After(2 * time.Second):
		t.Fatal("third acquire should have been granted after a release")
	}
	release2()
}

func TestAcquireFastFailsAtQueueDepthCap(t *testing.T) {
	m := New(Config{UserConcurrency: 1, QueueDepthCap: 2, HeartbeatInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _, err := m.Acquire(ctx, model.PriorityUser, "holder", nil)
	require.NoError(t, err)

	go func() { _, _, _ = m.Acquire(ctx, model.PriorityUser, "waiter-1", nil) }()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, m.QueueDepth())

	go func() { _, _, _ = m.Acquire(ctx, model.PriorityUser, "waiter-2", nil) }()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 2, m.QueueDepth())

	_, _, err = m.Acquire(ctx, model.PriorityUser, "waiter-3", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, coreerr.ErrBusy))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(Config{UserConcurrency: 1})
	_, release, err := m.Acquire(context.Background(), model.PriorityUser, "a", nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		release()
		release()
	})
}

func TestAcquireRespectsCancellation(t *testing.T) {
	m := New(Config{UserConcurrency: 1})
	_, _, err := m.Acquire(context.Background(), model.PriorityUser, "holder", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err = m.Acquire(ctx, model.PriorityUser, "waiter", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackgroundPoolSeparateFromUserPool(t *testing.T) {
	m := New(Config{UserConcurrency: 1, BackgroundConcurrency: 1})
	ctx := context.Background()

	_, releaseUser, err := m.Acquire(ctx, model.PriorityUser, "u", nil)
	require.NoError(t, err)
	defer releaseUser()

	done := make(chan struct{})
	go func() {
		_, releaseBG, err := m.Acquire(ctx, model.PriorityBackground, "bg", nil)
		if err == nil {
			releaseBG()
			close(done)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background acquire should not be blocked by the user pool")
	}
}

func TestAcquireEmitsHeartbeats(t *testing.T) {
	m := New(Config{UserConcurrency: 1, HeartbeatInterval: 10 * time.Millisecond})
	ctx := context.Background()

	_, releaseHolder, err := m.Acquire(ctx, model.PriorityUser, "holder", nil)
	require.NoError(t, err)

	updates := make(chan QueueUpdate, 4)
	waiterDone := make(chan struct{})
	go func() {
		_, release, err := m.Acquire(ctx, model.PriorityUser, "waiter", updates)
		if err == nil {
			release()
		}
		close(waiterDone)
	}()

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("expected a queue_update heartbeat while waiting")
	}

	releaseHolder()
	<-waiterDone
}
