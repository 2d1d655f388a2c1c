package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0o644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_MissingFileIsWatched(t *testing.T) {
	f := filepath.Join(t.TempDir(), "later.yaml")

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	assert.Equal(t, []string{f}, w.Paths())
}

// --- checkFiles ---

func TestFileWatcher_CheckFiles(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "config.yaml")

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)
	assert.Empty(t, w.checkFiles())

	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))
	events := w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpCreate, events[0].Op)
	assert.Empty(t, w.checkFiles(), "unchanged file yields no events")

	touch(t, f, time.Now().Add(time.Minute))
	events = w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpWrite, events[0].Op)

	require.NoError(t, os.Remove(f))
	events = w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpRemove, events[0].Op)
	assert.Equal(t, "REMOVE", events[0].Op.String())
}

// --- Start / Stop / IsRunning lifecycle ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0o644))

	w, err := NewFileWatcher([]string{f}, WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err = w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

// --- OnChange callback ---

func TestFileWatcher_OnChange_Callback(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0o644))

	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(10*time.Millisecond),
		WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	touch(t, f, time.Now().Add(time.Minute))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, f, events[0].Path)
	assert.Equal(t, FileOpWrite, events[0].Op)
}

// TestFileWatcher_Coalesces verifies that bursts of events for one path
// reach callbacks once after the debounce window.
func TestFileWatcher_Coalesces(t *testing.T) {
	f := filepath.Join(t.TempDir(), "coalesce.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v0"), 0o644))

	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(50*time.Millisecond),
		WithPollInterval(time.Hour))
	require.NoError(t, err)

	var mu sync.Mutex
	callCount := 0
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	for i := 0; i < 20; i++ {
		w.eventChan <- FileEvent{Path: f, Op: FileOpWrite, Timestamp: time.Now()}
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, callCount)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mod, mod))
}
