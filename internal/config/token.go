package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileToken serves a bearer token from a file and hot-reloads it when the
// file changes, so credential rotation never requires a restart. It
// implements the TokenSource contract the sync layer authenticates with.
type FileToken struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileToken reads the token once and starts watching the file's directory
// for changes. Watching the directory instead of the file survives the
// write-rename pattern most secret managers use.
func NewFileToken(path string, logger *zap.Logger) (*FileToken, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("token file path is required")
	}

	t := &FileToken{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := t.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch token file: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch token file: %w", err)
	}
	t.watcher = watcher
	go t.watch()
	return t, nil
}

// Token returns the current credential.
func (t *FileToken) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Reload re-reads the token file. A read failure keeps the previous token.
func (t *FileToken) Reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))

	t.mu.Lock()
	changed := token != t.token
	t.token = token
	t.mu.Unlock()

	if changed {
		t.logger.Info("token reloaded", zap.String("path", t.path))
	}
	return nil
}

// Close stops the watcher.
func (t *FileToken) Close() error {
	close(t.done)
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

func (t *FileToken) watch() {
	for {
		select {
		case <-t.done:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := t.Reload(); err != nil {
				t.logger.Warn("token reload failed", zap.Error(err))
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("token watcher error", zap.Error(err))
		}
	}
}
