// 配置文件变更监听器。
//
// 以轮询方式检测文件的创建、修改与删除，按路径去抖后触发回调。
// 工作流定义文件的热重载基于此实现。
package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrWatcherRunning 重复启动监听器
var ErrWatcherRunning = errors.New("watcher already running")

// FileOp 文件变更类型
type FileOp int

const (
	// FileOpCreate 文件被创建
	FileOpCreate FileOp = iota
	// FileOpWrite 文件内容被修改
	FileOpWrite
	// FileOpRemove 文件被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent 文件变更事件
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// fileState 轮询快照。按内容摘要比较，修改时间粒度较粗的文件系统上连续写入也能被识别。
type fileState struct {
	digest [sha256.Size]byte
}

// FileWatcher 轮询监听一组文件
type FileWatcher struct {
	mu sync.Mutex

	paths         []string
	pollInterval  time.Duration
	debounceDelay time.Duration

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	callbacks []func(FileEvent)
	states    map[string]fileState

	logger *zap.Logger
}

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounceDelay 设置去抖延迟，同一路径在延迟内的多次变更只触发一次回调
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d >= 0 {
			w.debounceDelay = d
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher 创建监听器。不存在的路径只记录警告，创建后会触发 FileOpCreate。
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		states:        make(map[string]fileState),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("watched file does not exist, waiting for creation", zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange 注册回调。回调在监听 goroutine 中串行执行。
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Paths 返回监听的绝对路径
func (w *FileWatcher) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

// IsRunning reports whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start 记录初始快照并开始轮询，ctx 取消或 Stop 时退出
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWatcherRunning
	}

	for _, p := range w.paths {
		if st, ok := snapshot(p); ok {
			w.states[p] = st
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监听并等待轮询 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("file watcher stopped")
}

func (w *FileWatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		w.mu.Lock()
		if w.done == done {
			w.running = false
		}
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	pending := make(map[string]FileEvent)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, evt := range w.check(now) {
				pending[evt.Path] = evt
			}
			for path, evt := range pending {
				if now.Sub(evt.Timestamp) < w.debounceDelay {
					continue
				}
				delete(pending, path)
				w.dispatch(evt)
			}
		}
	}
}

// check 比较快照，返回发生变化的文件
func (w *FileWatcher) check(now time.Time) []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events []FileEvent
	for _, p := range w.paths {
		prev, existed := w.states[p]
		cur, exists := snapshot(p)
		switch {
		case !exists && existed:
			delete(w.states, p)
			events = append(events, FileEvent{Path: p, Op: FileOpRemove, Timestamp: now})
		case exists && !existed:
			w.states[p] = cur
			events = append(events, FileEvent{Path: p, Op: FileOpCreate, Timestamp: now})
		case exists && existed:
			w.states[p] = cur
			if cur.digest != prev.digest {
				events = append(events, FileEvent{Path: p, Op: FileOpWrite, Timestamp: now})
			}
		}
	}
	return events
}

func (w *FileWatcher) dispatch(evt FileEvent) {
	w.mu.Lock()
	callbacks := append([]func(FileEvent)(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Debug("dispatching file event",
		zap.String("path", evt.Path),
		zap.String("op", evt.Op.String()))
	for _, cb := range callbacks {
		cb(evt)
	}
}

func snapshot(path string) (fileState, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, false
	}
	return fileState{digest: sha256.Sum256(data)}, true
}
