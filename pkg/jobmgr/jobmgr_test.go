package jobmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestManager_DuplicateNameRejected(t *testing.T) {
	m := NewManager(nil)
	release := make(chan struct{})

	require.NoError(t, m.StartAsync(context.Background(), "worker", func(ctx context.Context) error {
		<-release
		return nil
	}))
	assert.True(t, m.Running("worker"))

	err := m.StartAsync(context.Background(), "worker", func(ctx context.Context) error { return nil })
	require.Error(t, err, "a name gives single-flight semantics")

	close(release)
	waitFor(t, func() bool { return !m.Running("worker") })

	// Once the first run finished the name is free again.
	assert.NoError(t, m.StartAsync(context.Background(), "worker", func(ctx context.Context) error { return nil }))
}

func TestManager_StopCancelsJobContext(t *testing.T) {
	m := NewManager(nil)
	stopped := make(chan struct{})

	require.NoError(t, m.StartAsync(context.Background(), "loop", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	}))

	m.Stop("loop")
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not observe cancellation")
	}
	waitFor(t, func() bool { return m.Count() == 0 })
}

func TestManager_StopAll(t *testing.T) {
	m := NewManager(nil)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, m.StartAsync(context.Background(), name, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
	}
	assert.Equal(t, 3, m.Count())

	m.StopAll()
	waitFor(t, func() bool { return m.Count() == 0 })
}

func TestManager_ReportsLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []string
	m := NewManager(func(msg string) {
		mu.Lock()
		events = append(events, msg)
		mu.Unlock()
	})

	require.NoError(t, m.StartAsync(context.Background(), "job", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "running:job", events[0])
	assert.Equal(t, "error:job:boom", events[1])
	assert.Equal(t, "done:job", events[2])
}
