package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog/log"
)

// Handler loads and persists the yaml configuration file.
type Handler struct {
	path string

	mu     sync.Mutex
	cached *Root

	w *fsnotify.Watcher
}

func NewHandler(path string) *Handler {
	return &Handler{path: path}
}

// Get returns the parsed configuration with defaults applied. A missing file
// yields the default configuration.
func (h *Handler) Get() (*Root, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cached != nil {
		return h.cached, nil
	}

	r := &Root{}
	b, err := os.ReadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error reading configuration: %w", err)
		}
	} else if err := yaml.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}

	h.cached = AddDefaults(r)
	return h.cached, nil
}

func (h *Handler) Save(r *Root) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("error encoding configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0744); err != nil {
		return err
	}

	if err := os.WriteFile(h.path, b, 0644); err != nil {
		return fmt.Errorf("error writing configuration: %w", err)
	}

	h.mu.Lock()
	h.cached = r
	h.mu.Unlock()
	return nil
}

// Watch re-reads the file on change and invokes onChange with the fresh
// configuration. Events are debounced so editors that write in several
// steps trigger a single reload.
func (h *Handler) Watch(onChange func(*Root)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0744); err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return err
	}
	h.w = w

	l := log.Logger.With().Str("component", "config").Logger()

	go func() {
		var pending bool
		debounce := time.NewTicker(time.Second)
		defer debounce.Stop()
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(h.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					pending = true
				}
			case <-debounce.C:
				if !pending {
					continue
				}
				pending = false
				h.mu.Lock()
				h.cached = nil
				h.mu.Unlock()
				conf, err := h.Get()
				if err != nil {
					l.Error().Err(err).Msg("error reloading configuration")
					continue
				}
				l.Info().Msg("configuration reloaded")
				onChange(conf)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Error().Err(err).Msg("watcher error")
			}
		}
	}()

	return nil
}

func (h *Handler) Close() error {
	if h.w == nil {
		return nil
	}
	return h.w.Close()
}
