// Package reload keeps the served routing table in line with the
// configuration file.
package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/config"
	"github.com/Ladtech/sitehub/internal/core"
	"github.com/Ladtech/sitehub/internal/router"
)

const defaultDebounce = 500 * time.Millisecond

type Options struct {
	// Debounce collapses the burst of events an editor or a ConfigMap swap
	// produces into one reload.
	Debounce time.Duration
	// Apply is called with every configuration that was loaded successfully,
	// before its table is stored.
	Apply func(*config.Config)
}

// Reloader loads the configuration, builds its table and stores it in a
// holder. A configuration that fails to load or build leaves the served
// table untouched.
type Reloader struct {
	path   string
	holder *router.Holder
	deps   core.Deps
	opts   Options
	logger log.FieldLogger
}

func New(path string, h *router.Holder, d core.Deps, opts Options) *Reloader {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := d.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Reloader{
		path:   filepath.Clean(path),
		holder: h,
		deps:   d,
		opts:   opts,
		logger: logger.WithField("config", path),
	}
}

// Reload loads and builds the configuration and swaps the result in.
func (r *Reloader) Reload() error {
	t, err := r.load()
	if err != nil {
		r.observe("error")
		return err
	}
	r.holder.Store(t)
	r.observe("success")
	if m := r.deps.Metrics; m != nil {
		m.SetProxies(t.Len())
	}
	return nil
}

func (r *Reloader) load() (*router.Table, error) {
	cfg, err := config.Load(r.path)
	if err != nil {
		return nil, err
	}
	t, err := core.Build(cfg, r.deps)
	if err != nil {
		return nil, err
	}
	if r.opts.Apply != nil {
		r.opts.Apply(cfg)
	}
	return t, nil
}

func (r *Reloader) observe(result string) {
	if m := r.deps.Metrics; m != nil {
		m.IncReload(result)
	}
}

// Watch reloads whenever the directory holding the configuration file
// changes, until ctx is done. The directory is watched rather than the file
// since ConfigMap updates swap a symlink.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(r.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	r.logger.WithField("dir", dir).Info("watching for configuration changes")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.opts.Debounce)
			} else {
				timer.Reset(r.opts.Debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			if err := r.Reload(); err != nil {
				r.logger.WithError(err).Error("reload failed, keeping the current routing table")
				continue
			}
			r.logger.Info("configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.WithError(err).Warn("file watcher error")
		}
	}
}
