// Package server 通过 HTTP 暴露上下文窗口
//
// 所有接口都以 JSON 交互，路由挂在 /v1 下。服务只持有一个 Manager，
// 并发请求由 Manager 自身的锁串行化。
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/config"
	"github.com/easyops/ctxwindow-go/pkg/otel"
)

// Server 上下文窗口 HTTP 服务
type Server struct {
	manager *ctxwin.Manager
	cfg     config.ServerConfig
	logger  otel.Logger
	router  chi.Router
}

// Option Server 配置选项
type Option func(*Server)

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New 创建服务
func New(manager *ctxwin.Manager, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		cfg:     cfg,
		logger:  otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler 返回路由
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	h := &handlers{manager: s.manager}

	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/context", h.currentContext)
		r.Get("/conversation", h.conversationStatus)
		r.Post("/assemble", h.assemble)
		r.Post("/expirations", h.checkExpirations)

		r.Get("/files", h.listFiles)
		r.Post("/files", h.setFile)
		// 文件路径包含 /，用通配符匹配，后缀 /diff 返回差异
		r.Get("/files/*", h.getFile)

		r.Post("/terminal", h.addTerminal)
		r.Get("/terminal/{id}", h.getTerminal)

		r.Get("/tasks/{id}", h.getTask)
		r.Put("/tasks/{id}", h.updateTask)

		r.Get("/state", h.exportState)
		r.Put("/state", h.importState)
	})
	return r
}

// Run 启动服务，ctx 取消时优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定的 listener 上提供服务
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info("server stopped")
	return nil
}
