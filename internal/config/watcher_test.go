package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `{
	"providers": [
		{"id": "a", "provider": "anthropic", "api_key": "sk-ant-a"},
		{"id": "o", "provider": "openai", "api_key": "sk-o"}
	],
	"active_provider": "%s"
}`

type reloads struct {
	mu      sync.Mutex
	actives []string
}

func (r *reloads) record(cfg *Config) {
	r.mu.Lock()
	r.actives = append(r.actives, cfg.ActiveProvider)
	r.mu.Unlock()
}

func (r *reloads) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actives...)
}

func setupTestWatcher(t *testing.T) (*Watcher, string, *reloads, func()) {
	t.Helper()
	clearProviderEnv(t)

	path := filepath.Join(t.TempDir(), "hostpilot.json")
	writeConfig(t, path, sprintfConfig("a"))

	w, err := NewWatcher(NewLoader(path), WatcherConfig{Debounce: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	got := &reloads{}
	w.Subscribe(got.record)
	require.NoError(t, w.Start())

	return w, path, got, func() { _ = w.Stop() }
}

func sprintfConfig(active string) string {
	return fmt.Sprintf(watchedConfig, active)
}

func TestWatcher(t *testing.T) {
	t.Run("should hand valid reloads to subscribers", func(t *testing.T) {
		_, path, got, cleanup := setupTestWatcher(t)
		defer cleanup()

		writeConfig(t, path, sprintfConfig("o"))

		require.Eventually(t, func() bool {
			list := got.list()
			return len(list) > 0 && list[len(list)-1] == "o"
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("should ignore invalid reloads", func(t *testing.T) {
		_, path, got, cleanup := setupTestWatcher(t)
		defer cleanup()

		writeConfig(t, path, sprintfConfig("missing"))
		time.Sleep(300 * time.Millisecond)
		assert.Empty(t, got.list())

		writeConfig(t, path, sprintfConfig("o"))
		require.Eventually(t, func() bool {
			return len(got.list()) > 0
		}, 5*time.Second, 20*time.Millisecond)
		for _, active := range got.list() {
			assert.Equal(t, "o", active)
		}
	})

	t.Run("should ignore other files in the directory", func(t *testing.T) {
		_, path, got, cleanup := setupTestWatcher(t)
		defer cleanup()

		writeConfig(t, filepath.Join(filepath.Dir(path), "other.json"), "{}")
		time.Sleep(300 * time.Millisecond)
		assert.Empty(t, got.list())
	})

	t.Run("should stop more than once", func(t *testing.T) {
		w, _, _, _ := setupTestWatcher(t)
		assert.NoError(t, w.Stop())
		assert.NoError(t, w.Stop())
	})
}
