package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/server"
	"github.com/easyops/ctxwindow-go/pkg/workspace"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		root    string
		session string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the workspace, watch it for changes and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if root != "" {
				a.cfg.Workspace.Root = root
			}
			return a.serve(cmd.Context(), session, !noWatch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&root, "root", "", "workspace root (overrides workspace.root)")
	cmd.Flags().StringVar(&session, "session", "", "session id; restores the latest snapshot on start and saves one on exit")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "load the workspace once without watching it")
	return cmd
}

func (a *app) serve(ctx context.Context, session string, watch bool) error {
	mgr, err := a.newManager()
	if err != nil {
		return err
	}

	if session != "" {
		store, err := a.openSnapshots()
		if err != nil {
			return err
		}
		defer store.Close()

		if state, meta, err := store.Latest(ctx, session); err == nil {
			if err := mgr.ImportState(state); err != nil {
				return fmt.Errorf("restore snapshot %s: %w", meta.ID, err)
			}
			a.logger.Info("snapshot restored", "session_id", session, "snapshot_id", meta.ID)
		}

		defer func() {
			// 进程退出时 ctx 已取消，保存使用独立的超时
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if meta, err := store.Save(saveCtx, session, mgr.ExportState()); err != nil {
				a.logger.Error("snapshot save failed", "session_id", session, "error", err)
			} else {
				a.logger.Info("snapshot saved", "session_id", session, "snapshot_id", meta.ID, "size", meta.Size)
			}
		}()
	}

	loader, err := workspace.NewLoader(a.cfg.Workspace, workspace.WithLogger(a.logger))
	if err != nil {
		return err
	}
	report, err := loader.Load(ctx, mgr)
	if err != nil {
		return err
	}
	a.logger.Info("workspace loaded", "root", loader.Root(), "files", len(report.Loaded), "skipped", len(report.Skipped))

	srv := server.New(mgr, a.cfg.Server, server.WithLogger(a.logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if watch {
		w := workspace.NewWatcher(loader, mgr,
			workspace.WithDebounce(a.cfg.Workspace.Debounce),
			workspace.WithChangeHandler(func(path string, res ctxwin.FileResult) {
				if res.Decision != nil {
					a.logger.Info("edit handled", "path", path, "strategy", res.Decision.Strategy)
				}
			}),
		)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	return g.Wait()
}
