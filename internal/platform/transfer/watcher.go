package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// FileHandler receives a settled inbound file.
type FileHandler func(ctx context.Context, name string, content []byte) error

// Watcher hands files dropped into a directory to a FileHandler. A file is
// handed over once no write event arrived for it during the settle
// interval, so a half-written file is not picked up.
type Watcher struct {
	dir     string
	handle  FileHandler
	logger  zerolog.Logger
	settle  time.Duration
	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher watches dir. settle defaults to one second.
func NewWatcher(dir string, handle FileHandler, settle time.Duration, logger zerolog.Logger) *Watcher {
	if settle <= 0 {
		settle = time.Second
	}
	return &Watcher{
		dir:     dir,
		handle:  handle,
		logger:  logger.With().Str("component", "watcher").Str("dir", dir).Logger(),
		settle:  settle,
		pending: make(map[string]time.Time),
	}
}

// Run handles the files already present, then every file created or
// written until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.dir, err)
	}
	now := time.Now()
	for _, e := range entries {
		if e.Type().IsRegular() && !isHidden(e.Name()) && !isPartial(e.Name()) {
			w.touch(e.Name(), now)
		}
	}

	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()
	w.logger.Info().Msg("watching inbound directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if name, ok := w.relevant(ev); ok {
				w.touch(name, time.Now())
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watch error")
		case now := <-tick.C:
			for _, name := range w.due(now) {
				w.process(ctx, name)
			}
		}
	}
}

// relevant maps an fsnotify event to the inbound file it concerns.
func (w *Watcher) relevant(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	name := filepath.Base(ev.Name)
	if isHidden(name) || isPartial(name) {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return name, true
}

func (w *Watcher) touch(name string, at time.Time) {
	w.mu.Lock()
	w.pending[name] = at
	w.mu.Unlock()
}

// due removes and returns the names that have been quiet for settle.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var names []string
	for name, last := range w.pending {
		if now.Sub(last) >= w.settle {
			names = append(names, name)
			delete(w.pending, name)
		}
	}
	return names
}

func (w *Watcher) process(ctx context.Context, name string) {
	content, err := os.ReadFile(filepath.Join(w.dir, name))
	if err != nil {
		w.logger.Error().Err(err).Str("filename", name).Msg("read inbound file")
		return
	}
	if err := w.handle(ctx, name, content); err != nil {
		w.logger.Error().Err(err).Str("filename", name).Msg("handle inbound file")
	}
}
