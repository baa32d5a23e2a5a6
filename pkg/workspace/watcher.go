package workspace

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
)

// ChangeHandler 在文件重新写入后被调用
type ChangeHandler func(path string, res ctxwin.FileResult)

// Watcher 监听工作区文件变化
//
// 同一路径在去抖窗口内的多次事件合并为一次读取。
// 删除和重命名只记录日志，内容存储中的文件保留。
type Watcher struct {
	loader   *Loader
	sink     Sink
	debounce time.Duration
	onChange ChangeHandler

	ready     chan struct{}
	readyOnce sync.Once
}

// WatcherOption Watcher 配置选项
type WatcherOption func(*Watcher)

// WithDebounce 设置去抖窗口
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithChangeHandler 设置变更回调
func WithChangeHandler(fn ChangeHandler) WatcherOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher 创建监听器，去抖窗口默认 200ms
func NewWatcher(loader *Loader, sink Sink, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		sink:     sink,
		debounce: 200 * time.Millisecond,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Ready 在所有目录都已加入监听后关闭
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run 监听直到 ctx 取消
//
// ctx 取消时返回 nil；底层监听出错时返回该错误。返回前会关闭 fsnotify 监听。
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, w.loader.Root()); err != nil {
		return err
	}
	w.readyOnce.Do(func() { close(w.ready) })
	w.loader.logger.Debug("workspace watcher started", "root", w.loader.Root())

	pending := make(map[string]time.Time)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.loader.logger.Warn("workspace watcher error", "error", err)

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event, pending, timer)

		case now := <-timer.C:
			next := w.flush(ctx, pending, now)
			if !next.IsZero() {
				timer.Reset(next.Sub(now))
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time, timer *time.Timer) {
	rel, err := w.loader.Rel(event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if skipDirs[filepath.Base(event.Name)] {
				return
			}
			if err := w.addRecursive(fsw, event.Name); err != nil {
				w.loader.logger.Warn("watch new directory failed", "path", rel, "error", err)
			}
			// 目录加入监听之前写入的文件不会产生事件
			w.scheduleDir(event.Name, pending, timer)
			return
		}
	case event.Has(fsnotify.Write):
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.loader.Match(rel) {
			w.loader.logger.Debug("workspace file removed", "path", rel)
		}
		return
	default:
		return
	}

	if w.loader.Match(rel) {
		w.schedule(rel, pending, timer)
	}
}

func (w *Watcher) schedule(rel string, pending map[string]time.Time, timer *time.Timer) {
	if len(pending) == 0 {
		timer.Reset(w.debounce)
	}
	pending[rel] = time.Now().Add(w.debounce)
}

func (w *Watcher) scheduleDir(dir string, pending map[string]time.Time, timer *time.Timer) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if rel, err := w.loader.Rel(path); err == nil && w.loader.Match(rel) {
			w.schedule(rel, pending, timer)
		}
		return nil
	})
}

// flush 写入去抖窗口已过的文件，返回下一个到期时间
func (w *Watcher) flush(ctx context.Context, pending map[string]time.Time, now time.Time) time.Time {
	var next time.Time
	for rel, due := range pending {
		if due.After(now) {
			if next.IsZero() || due.Before(next) {
				next = due
			}
			continue
		}
		delete(pending, rel)

		content, ok, err := w.loader.Read(rel)
		if err != nil {
			if !stderrors.Is(err, fs.ErrNotExist) {
				w.loader.logger.Warn("read changed file failed", "path", rel, "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		res := w.sink.SetFile(ctx, rel, content, map[string]interface{}{"source": "watcher"})
		w.loader.logger.Debug("workspace file updated", "path", rel, "changed", res.Changed)
		if w.onChange != nil {
			w.onChange(rel, res)
		}
	}
	return next
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.loader.Root() && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
