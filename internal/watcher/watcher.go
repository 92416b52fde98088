// Package watcher restarts the backend when its own binary (or another
// watched file) changes on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"app-catalog-drop/internal/logging"
)

// fileState is what a poll compares between ticks.
type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher polls a single file's modification time.
type Watcher struct {
	path     string
	interval time.Duration

	mu   sync.Mutex
	last fileState
}

// New records the current state of path so that only later changes count.
func New(path string, interval time.Duration) (*Watcher, error) {
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}
	if interval <= 0 {
		interval = time.Second
	}

	st, err := stat(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, interval: interval, last: st}, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Poll reports whether the file changed since the previous poll. A file that
// is briefly missing (mid-replace by a build tool) is not a change.
func (w *Watcher) Poll() (bool, error) {
	st, err := stat(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if st.modTime.Equal(w.last.modTime) && st.size == w.last.size {
		return false, nil
	}
	w.last = st
	return true, nil
}

// Run polls until ctx is done or a change is seen. On change it calls
// onChange once and returns nil.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	logging.Info("restart_watcher_started", map[string]any{
		"path":     w.path,
		"interval": w.interval.String(),
	})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("restart_watcher_stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			changed, err := w.Poll()
			if err != nil {
				logging.Warn("restart_watcher_poll_failed", map[string]any{
					"path":  w.path,
					"error": err.Error(),
				})
				continue
			}
			if changed {
				logging.Info("restart_watcher_change_detected", map[string]any{"path": w.path})
				onChange()
				return nil
			}
		}
	}
}

// Reexec replaces the current process with a fresh copy of the running
// executable, keeping arguments and environment. It only returns on error.
func Reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	logging.Info("restarting", map[string]any{"exe": exe, "args": os.Args[1:]})
	return syscall.Exec(exe, os.Args, os.Environ())
}

func stat(path string) (fileState, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileState{}, err
	}
	return fileState{modTime: fi.ModTime(), size: fi.Size()}, nil
}
