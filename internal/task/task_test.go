package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStop(t *testing.T) {
	t.Run("cooperative task exits", func(t *testing.T) {
		tk := Go(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		assert.True(t, tk.Running())

		require.NoError(t, tk.Stop(time.Second))
		assert.False(t, tk.Running())
		assert.NoError(t, tk.Err())
	})

	t.Run("stubborn task times out", func(t *testing.T) {
		release := make(chan struct{})
		tk := Go(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})

		err := tk.Stop(20 * time.Millisecond)
		assert.ErrorIs(t, err, ErrJoinTimeout)
		assert.True(t, tk.Running())

		close(release)
		require.NoError(t, tk.Join(time.Second))
	})

	t.Run("stop is repeatable", func(t *testing.T) {
		tk := Go(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.NoError(t, tk.Stop(time.Second))
		require.NoError(t, tk.Stop(time.Second))
		assert.ErrorIs(t, tk.Err(), context.Canceled)
	})
}

func TestTaskErrors(t *testing.T) {
	t.Run("returned error is kept", func(t *testing.T) {
		boom := errors.New("boom")
		tk := Go(context.Background(), func(ctx context.Context) error { return boom })
		<-tk.Done()
		assert.ErrorIs(t, tk.Err(), boom)
	})

	t.Run("panic becomes error", func(t *testing.T) {
		tk := Go(context.Background(), func(ctx context.Context) error { panic("kaboom") })
		<-tk.Done()
		require.Error(t, tk.Err())
		assert.Contains(t, tk.Err().Error(), "kaboom")
	})
}

func TestTaskParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tk := Go(parent, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	cancel()

	select {
	case <-tk.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not observe parent cancellation")
	}
}

func TestSleep(t *testing.T) {
	t.Run("full duration", func(t *testing.T) {
		assert.True(t, Sleep(context.Background(), 5*time.Millisecond))
	})

	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		assert.False(t, Sleep(ctx, 5*time.Second))
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("zero duration on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, Sleep(ctx, 0))
	})
}
