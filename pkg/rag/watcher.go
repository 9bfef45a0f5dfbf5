package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long a file must stay quiet before re-ingesting
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-ingests a document whenever it changes on disk
type Watcher struct {
	watcher  *fsnotify.Watcher
	pipeline *Pipeline
	path     string
	logger   zerolog.Logger
	debounce time.Duration
	onIngest func(int, error)

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	// inflight counts ingests started by the debounce timer
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	Pipeline *Pipeline
	Path     string
	Debounce time.Duration
	// OnIngest is called after every re-ingest with its outcome.
	OnIngest func(chunks int, err error)
	Logger   zerolog.Logger
}

// NewWatcher starts watching cfg.Path. The directory is watched rather
// than the file so editors that replace files on save are still seen.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		watcher:  fsw,
		pipeline: cfg.Pipeline,
		path:     abs,
		logger:   cfg.Logger.With().Str("component", "rag_watcher").Str("file", filepath.Base(abs)).Logger(),
		debounce: cfg.Debounce,
		onIngest: cfg.OnIngest,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Stop stops watching and waits for the event loop and any running
// re-ingest to finish. OnIngest is not called after Stop returns.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.cancel()
	err := w.watcher.Close()
	<-w.done
	w.inflight.Wait()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
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
				w.logger.Debug().Str("op", event.Op.String()).Msg("File change detected")
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.ctx.Done():
			return
		}
	}
}

// schedule debounces bursts of writes into one ingest
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.ingest)
}

func (w *Watcher) ingest() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	n, err := w.pipeline.IngestFile(w.ctx, w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Re-ingest failed")
	} else {
		w.logger.Info().Int("chunks", n).Msg("Document re-ingested")
	}
	if w.onIngest != nil {
		w.onIngest(n, err)
	}
}
