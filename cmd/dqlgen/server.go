package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kalambet/dqlgen/internal/api"
	"github.com/kalambet/dqlgen/internal/indexer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipModels, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(skipModels)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull Ollama models at startup")
}

func runServer(skipModels bool) error {
	fmt.Fprintf(os.Stderr, "dqlgen version %s\n", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, true, func(ctx context.Context, a *app) error {
		if !skipModels {
			if err := a.ensureModels(ctx, os.Stderr); err != nil {
				return err
			}
		}

		handler := api.NewHandler(api.Deps{
			Pipeline:  a.service,
			Retriever: a.retriever,
			History:   a.db,
			Token:     a.cfg.Server.APIToken,
			Origins:   a.cfg.Origins(),
			Logger:    a.logger.Named("api"),
		})

		addr := net.JoinHostPort(a.cfg.Server.Host, fmt.Sprint(a.cfg.Server.Port))
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		if interval := a.cfg.PromoteInterval(); interval > 0 {
			worker := indexer.NewWorker(func(ctx context.Context) (int, error) {
				return a.promoter.PromoteAndStore(ctx, a.store)
			}, interval, a.logger.Named("promoter"))
			go worker.Run(ctx)
			a.logger.Info("feedback promotion worker started", zap.Duration("interval", interval))
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening",
				zap.String("addr", addr),
				zap.String("vector_backend", a.cfg.Vector.Backend),
				zap.String("generation_backend", a.backend.Name()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func runMCP() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP transport; the logger already writes to stderr.
	return withApp(ctx, true, func(ctx context.Context, a *app) error {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline:  a.service,
			Retriever: a.retriever,
			History:   a.db,
			Version:   version,
		})
		stdio := server.NewStdioServer(mcpSrv)
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	})
}
