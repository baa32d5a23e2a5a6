// Package workspace 把磁盘上的工作区文件同步进上下文窗口
//
// Loader 并发读取初始文件集，Watcher 监听文件变化并按路径去抖后重新写入。
// 两者都只通过 Sink 接口写入，路径统一为相对根目录、以 / 分隔的形式。
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/otel"
)

// Sink 接收文件内容，*context.Manager 实现了该接口
type Sink interface {
	SetFile(ctx context.Context, path, content string, meta map[string]interface{}) ctxwin.FileResult
}

// 不进入的目录
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".ctxwin":      true,
	".idea":        true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Loader 工作区文件加载器
type Loader struct {
	root        string
	include     []string
	maxBytes    int64
	concurrency int
	logger      otel.Logger
}

// Option Loader 配置选项
type Option func(*Loader)

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader 创建加载器，未设置的配置项使用默认值
func NewLoader(cfg config.WorkspaceConfig, opts ...Option) (*Loader, error) {
	cfg = cfg.WithDefaults()
	for _, pattern := range cfg.Include {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		root:        root,
		include:     cfg.Include,
		maxBytes:    cfg.MaxFileBytes,
		concurrency: cfg.Concurrency,
		logger:      otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Root 返回工作区根目录的绝对路径
func (l *Loader) Root() string {
	return l.root
}

// Report 一次加载的结果
type Report struct {
	// Loaded 写入的文件（相对路径，已排序）
	Loaded []string `json:"loaded"`
	// Skipped 因过大或非文本跳过的文件
	Skipped []string `json:"skipped,omitempty"`
}

// Load 读取根目录下所有匹配的文件并写入 sink
//
// 读取并发数受 Concurrency 限制。ctx 取消后停止并返回 ctx.Err()，已写入的文件保留。
func (l *Loader) Load(ctx context.Context, sink Sink) (Report, error) {
	paths, err := l.Scan()
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, ok, err := l.Read(rel)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if !ok {
				report.Skipped = append(report.Skipped, rel)
				return nil
			}
			sink.SetFile(gctx, rel, content, map[string]interface{}{"source": "workspace"})
			report.Loaded = append(report.Loaded, rel)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	sort.Strings(report.Loaded)
	sort.Strings(report.Skipped)
	l.logger.Info("workspace loaded",
		"root", l.root, "files", len(report.Loaded), "skipped", len(report.Skipped))
	return report, nil
}

// Scan 返回根目录下所有匹配的文件（相对路径，已排序）
func (l *Loader) Scan() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := l.Rel(path)
		if err != nil {
			return nil
		}
		if l.Match(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Rel 把绝对路径转换为相对根目录、以 / 分隔的路径
func (l *Loader) Rel(path string) (string, error) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, l.root)
	}
	return filepath.ToSlash(rel), nil
}

// Match 判断相对路径是否被纳入
//
// 模式同时匹配文件名和完整相对路径，例如 "*.go" 与 "cmd/*/main.go" 都可用。
// 位于被跳过目录中的路径不匹配。
func (l *Loader) Match(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if skipDirs[dir] {
			return false
		}
	}
	base := parts[len(parts)-1]
	for _, pattern := range l.include {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Read 读取相对路径的文件
//
// 文件超过 MaxFileBytes、包含 NUL 字节或不是合法 UTF-8 时返回 ok=false。
func (l *Loader) Read(rel string) (string, bool, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return "", false, err
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return "", false, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false, err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return "", false, nil
	}
	return string(data), true, nil
}
