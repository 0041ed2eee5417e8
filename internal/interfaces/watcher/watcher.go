// Package watcher runs every table dropped into an inbox directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// annotatedMarker is inserted before the extension of output files.  Files
// carrying it are never picked up as input.
const annotatedMarker = ".annotated"

// Runner executes one table run.
type Runner interface {
	RunTable(ctx context.Context, input, output string) (*mtypes.RunReport, error)
}

// Watcher feeds inbox files to a Runner.  Files are processed one at a
// time, after they have been quiet for the debounce interval.
type Watcher struct {
	cfg    config.InboxConfig
	runner Runner
	logger logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	stopped chan struct{}
	done    map[string]time.Time // path -> mod time of the processed version
}

// New creates a Watcher.  cfg.Dir is required; an empty OutputDir writes
// next to the input.
func New(cfg config.InboxConfig, runner Runner, log logging.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.InvalidParam("inbox directory is required")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = config.DefaultInboxPattern
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, errors.InvalidParam("invalid inbox pattern").WithDetail(cfg.Pattern)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = config.DefaultInboxDebounce
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.Dir
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Watcher{
		cfg:     cfg,
		runner:  runner,
		logger:  log.Named("watcher").With(logging.String("inbox", cfg.Dir)),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		stopped: make(chan struct{}),
		done:    make(map[string]time.Time),
	}, nil
}

// OutputPath is where the annotated table for input is written.
func (w *Watcher) OutputPath(input string) string {
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	return filepath.Join(w.cfg.OutputDir, strings.TrimSuffix(base, ext)+annotatedMarker+ext)
}

// Matches reports whether name is an inbox input.  Hidden files and
// annotated outputs never are.
func (w *Watcher) Matches(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if ok, _ := filepath.Match(w.cfg.Pattern, base); !ok {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), annotatedMarker)
}

// Run watches until ctx ends.  Files already present are processed first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to create output directory").WithDetail(w.cfg.OutputDir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create file watcher")
	}
	defer fw.Close()
	if err := fw.Add(w.cfg.Dir); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to watch inbox").WithDetail(w.cfg.Dir)
	}
	defer w.stopPending()

	existing, err := w.scan()
	if err != nil {
		return err
	}
	w.logger.Info("watching inbox",
		logging.String("pattern", w.cfg.Pattern),
		logging.String("output_dir", w.cfg.OutputDir),
		logging.Int("existing", len(existing)))
	for _, p := range existing {
		w.schedule(p)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && w.Matches(ev.Name) {
				w.schedule(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", logging.Err(err))
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to read inbox").WithDetail(w.cfg.Dir)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && w.Matches(e.Name()) {
			out = append(out, filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.stopped:
		}
	})
}

func (w *Watcher) stopPending() {
	close(w.stopped)
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}

// process runs path unless this version of it was already processed.
func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("inbox file vanished", logging.String("file", path))
		return
	}
	if mod, ok := w.done[path]; ok && mod.Equal(info.ModTime()) {
		return
	}

	output := w.OutputPath(path)
	log := w.logger.With(logging.String("file", path), logging.String("output", output))
	report, err := w.runner.RunTable(ctx, path, output)
	w.done[path] = info.ModTime()
	if err != nil {
		log.Error("inbox run failed", logging.Err(err))
		return
	}
	log.Info("inbox run completed",
		logging.String("run_id", report.RunID.String()),
		logging.Int("processed", report.Processed),
		logging.Int("matched", report.Matched),
		logging.Int("skipped", report.TotalSkipped()))
}
