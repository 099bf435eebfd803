package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// OnChange is called with the previous and the freshly loaded configuration.
type OnChange func(old, new *Config)

// Watcher reloads a configuration file whenever it changes on disk. Invalid
// files are logged and ignored; the last good configuration stays current.
type Watcher struct {
	loader   *Loader
	path     string
	log      *slog.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	callbacks []OnChange
	timer     *time.Timer

	fsw       *fsnotify.Watcher
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewWatcher(loader *Loader, path string, current *Config, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		loader:   loader,
		path:     filepath.Clean(path),
		log:      log.With(slog.String("config", path)),
		debounce: defaultDebounce,
		current:  current,
		done:     make(chan struct{}),
	}
}

// SetDebounce must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

func (w *Watcher) OnChange(fn OnChange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches the directory of the file, so editors that replace the file
// by rename are still picked up.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run()
	w.log.Info("watching config file")
	return nil
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", slog.Any("error", err))
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

	next, err := w.loader.Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous", slog.Any("error", err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([]OnChange(nil), w.callbacks...)
	w.mu.Unlock()

	w.log.Info("config reloaded")
	for _, fn := range callbacks {
		w.notify(fn, prev, next)
	}
}

func (w *Watcher) notify(fn OnChange, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config callback panicked", slog.Any("panic", r))
		}
	}()
	fn(prev, next)
}
