package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 150 * time.Millisecond

// Watcher 监听配置文件变更，去抖后重新 Load 并回调。
// 内容哈希不变的写事件会被忽略。
type Watcher struct {
	path     string
	onReload func(Config)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu       sync.Mutex
	timer    *time.Timer
	lastHash [sha256.Size]byte
	stopped  bool
}

// NewWatcher 监听 path 所在目录，以便捕获编辑器的原子替换。
func NewWatcher(path string, logger *slog.Logger, onReload func(Config)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if onReload == nil {
		return nil, errors.New("reload callback is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{path: abs, onReload: onReload, logger: logger, fsw: fsw}
	if data, err := os.ReadFile(abs); err == nil {
		w.lastHash = sha256.Sum256(data)
	}
	return w, nil
}

// Run 处理文件事件直到 ctx 取消。
func (w *Watcher) Run(ctx context.Context) {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("err", err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil || len(data) == 0 {
		return
	}
	sum := sha256.Sum256(data)
	w.mu.Lock()
	if w.stopped || sum == w.lastHash {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous settings", slog.Any("err", err))
		return
	}
	w.mu.Lock()
	w.lastHash = sum
	w.mu.Unlock()
	w.logger.Info("config reloaded", slog.String("path", w.path))
	w.onReload(cfg)
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	_ = w.fsw.Close()
}
