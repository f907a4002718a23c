package security

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle before reloading.
const DefaultDebounce = 200 * time.Millisecond

// PolicyWatcher reloads a policy file into a controller whenever the file changes.
//
// The parent directory is watched rather than the file so that editors which save by
// renaming a temporary file over the original are noticed.
type PolicyWatcher struct {
	path       string
	controller *PolicyAccessController
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	debounce   time.Duration

	// OnReload is called after every reload attempt with the new policy or the error.
	// Set it before Run.
	OnReload func(*Policy, error)
}

// NewPolicyWatcher watches path on behalf of c.
func NewPolicyWatcher(path string, c *PolicyAccessController, logger *slog.Logger) (*PolicyWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching policy directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyWatcher{
		path:       abs,
		controller: c,
		watcher:    fsw,
		logger:     logger,
		debounce:   DefaultDebounce,
	}, nil
}

// Run processes file events until ctx is done or the watcher is closed.
func (w *PolicyWatcher) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("policy change detected", "path", w.path, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy watcher error", "error", err)

		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload reads the policy file now. A policy that fails to load or validate is logged
// and the current one stays in force.
func (w *PolicyWatcher) Reload() {
	p, err := LoadPolicyFile(w.path)
	if err == nil {
		err = w.controller.SetPolicy(p)
	}
	if err != nil {
		p = nil
		w.logger.Warn("policy reload failed, keeping previous policy", "path", w.path, "error", err)
	} else {
		w.logger.Info("policy reloaded", "path", w.path, "rules", len(p.Rules))
	}
	if w.OnReload != nil {
		w.OnReload(p, err)
	}
}

// Close stops watching.
func (w *PolicyWatcher) Close() error {
	return w.watcher.Close()
}
