package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ThresholdHandler receives the new table after a successful reload.
type ThresholdHandler func(t Thresholds)

// ThresholdWatcher hot-reloads the improvement threshold table from a YAML
// file so operators can tighten alerting without a restart.
type ThresholdWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ThresholdHandler
	current  Thresholds
	stopCh   chan struct{}
	started  bool
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewThresholdWatcher loads the file once and prepares the watcher. The file
// must exist and parse at construction time.
func NewThresholdWatcher(path string, initial Thresholds, logger *zap.Logger) (*ThresholdWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &ThresholdWatcher{
		path:    path,
		current: initial,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	if path != "" {
		t, err := loadThresholds(path)
		if err != nil {
			return nil, err
		}
		w.current = t

		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		// watch the directory: editors replace files rather than write in place
		if err := fsw.Add(filepath.Dir(path)); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
		w.watcher = fsw
	}
	return w, nil
}

// Current returns the active threshold table.
func (w *ThresholdWatcher) Current() Thresholds {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a handler invoked after each successful reload.
func (w *ThresholdWatcher) OnChange(h ThresholdHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching. No-op when no file is configured.
func (w *ThresholdWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.watcher == nil {
		return
	}
	w.started = true
	go w.loop()
}

// Stop ends watching.
func (w *ThresholdWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	w.started = false
}

func (w *ThresholdWatcher) loop() {
	// debounce rapid write+rename sequences from editors
	var pending *time.Timer
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Threshold watcher error", zap.Error(err))
		}
	}
}

func (w *ThresholdWatcher) reload() {
	t, err := loadThresholds(w.path)
	if err != nil {
		w.logger.Error("Threshold reload failed, keeping previous table",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = t
	handlers := make([]ThresholdHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	w.logger.Info("Quality thresholds reloaded", zap.String("path", w.path))
	for _, h := range handlers {
		h(t)
	}
}

func loadThresholds(path string) (Thresholds, error) {
	var t Thresholds
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read thresholds: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse thresholds: %w", err)
	}
	if t.MinQualityScore < 0 || t.MinQualityScore > 1 {
		return t, fmt.Errorf("min_quality_score out of range: %f", t.MinQualityScore)
	}
	return t, nil
}
