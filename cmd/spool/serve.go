package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/spool/api"
	audithook "github.com/xraph/spool/audit_hook"
	"github.com/xraph/spool/engine"
	"github.com/xraph/spool/export/remote"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the cleanup sweeper and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, closeStore, err := openStore(ctx, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			engOpts := []engine.Option{
				engine.WithConfig(cfg.SpoolConfig()),
				engine.WithQueues(cfg.QueueConfigs()...),
				engine.WithLogger(logger),
			}

			if cfg.Audit.Enabled {
				var auditOpts []audithook.Option
				if len(cfg.Audit.Actions) > 0 {
					auditOpts = append(auditOpts, audithook.WithActions(cfg.Audit.Actions...))
				}
				auditOpts = append(auditOpts, audithook.WithLogger(logger))
				engOpts = append(engOpts, engine.WithExtension(
					audithook.New(audithook.NewLogRecorder(logger), auditOpts...)))
			}

			artifacts, files, err := openArtifacts(ctx, cfg.Artifacts)
			if err != nil {
				return fmt.Errorf("open artifacts: %w", err)
			}
			if cfg.Remote.DataSourceURL != "" && cfg.Remote.RendererURL != "" {
				engOpts = append(engOpts, engine.WithExportPipeline(engine.ExportPipeline{
					Source:    remote.NewDataSource(cfg.Remote.DataSourceURL, remote.WithTimeout(cfg.Remote.Timeout)),
					Renderer:  remote.NewRenderer(cfg.Remote.RendererURL, remote.WithTimeout(cfg.Remote.Timeout)),
					Artifacts: artifacts,
				}))
			} else {
				logger.Warn("remote.data_source_url or remote.renderer_url not set, export pipeline disabled")
			}

			eng, err := engine.New(s, engOpts...)
			if err != nil {
				return err
			}

			apiOpts := []api.Option{api.WithLogger(logger)}
			if h := filesHandler(files, eng.Exports(), logger); h != nil {
				apiOpts = append(apiOpts, api.WithFiles(h))
			}
			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           api.New(eng, apiOpts...).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if err := eng.Start(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http listening", slog.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					logger.Error("http server failed", slog.String("error", err.Error()))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Engine.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
			return eng.Stop(shutdownCtx)
		},
	}
}
