package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives a freshly loaded and validated config.
type ReloadFunc func(cfg *Config)

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	// Debounce collapses bursts of writes; editors often write a file twice
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Watcher reloads the config file when it changes. Reloads that fail to load
// or validate are logged and dropped; subscribers only ever see valid configs.
type Watcher struct {
	loader   *Loader
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	subscribers []ReloadFunc
	timer       *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the loader's file
func NewWatcher(loader *Loader, cfg WatcherConfig) (*Watcher, error) {
	path := loader.GetConfigPath()
	if path == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	return &Watcher{
		loader:   loader,
		path:     filepath.Clean(path),
		watcher:  fw,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "config").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Subscribe registers fn for future reloads
func (w *Watcher) Subscribe(fn ReloadFunc) {
	w.mu.Lock()
	w.subscribers = append(w.subscribers, fn)
	w.mu.Unlock()
}

// Start watches the directory holding the file. The directory is watched
// rather than the file because editors replace files on save.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		if cerr := w.watcher.Close(); cerr != nil {
			err = fmt.Errorf("failed to close watcher: %w", cerr)
		}
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring config reload: load failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring config reload: invalid config")
		return
	}

	w.mu.Lock()
	subs := append([]ReloadFunc(nil), w.subscribers...)
	w.mu.Unlock()

	w.logger.Info().Msg("Config reloaded")
	for _, fn := range subs {
		fn(cfg)
	}
}
