package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooperRunsInOrder(t *testing.T) {
	l := NewLooper(discardLogger())
	l.Start()
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLooperSurvivesPanic(t *testing.T) {
	l := NewLooper(discardLogger())
	l.Start()
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLooperPanicHook(t *testing.T) {
	l := NewLooper(discardLogger())
	var got any
	l.OnPanic(func(v any) { got = v })
	l.Start()
	defer l.Stop()

	l.Post(func() { panic("boom") })
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, "boom", got)
}

func TestLooperCallHonoursContext(t *testing.T) {
	l := NewLooper(discardLogger())
	l.Start()

	release := make(chan struct{})
	l.Post(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Call(ctx, func() {}), context.DeadlineExceeded)

	close(release)
	l.Stop()
}

func TestLooperStop(t *testing.T) {
	l := NewLooper(discardLogger())
	l.Start()
	l.Stop()

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrLooperStopped)

	l.Stop()
}

func TestLooperStopWithoutStart(t *testing.T) {
	l := NewLooper(nil)
	done := make(chan struct{})
	go func() {
		l.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked on a looper that never started")
	}
}
