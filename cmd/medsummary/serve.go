package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/medsummary/internal/export"
	"github.com/joseph-ayodele/medsummary/internal/ingest"
	"github.com/joseph-ayodele/medsummary/internal/notify"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
	"github.com/joseph-ayodele/medsummary/internal/server"
)

const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, gRPC service, job updates socket and inbox watcher",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(logger)
	defer hub.Close()

	a, err := newApp(ctx, cfg, logger, pipeline.WithNotifier(hub))
	if err != nil {
		return err
	}
	defer a.close(logger)

	api := server.NewHTTPServer(a.svc, export.NewService(logger), hub, server.HTTPConfig{
		MaxUploadBytes: cfg.Files.MaxUploadBytes,
	}, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var lis net.Listener
	if cfg.Server.GRPCAddr != "" {
		if lis, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http.serving", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if lis != nil {
		grpcSrv, health := server.NewGRPCServer(server.NewAnalysisService(a.svc, logger), logger)
		g.Go(func() error {
			logger.Info("grpc.serving", "addr", cfg.Server.GRPCAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			health.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	if cfg.Inbox.Dir != "" {
		inbox := ingest.NewInbox(a.svc, ingest.Config{
			Dir:          cfg.Inbox.Dir,
			Consent:      cfg.Inbox.Consent,
			AutoProvider: cfg.Inbox.AutoProvider,
		}, logger)
		g.Go(func() error {
			err := inbox.Run(gctx, ingest.WatchConfig{InitialScan: true, Debounce: cfg.Inbox.Debounce})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("http.shutdown.failed", "error", err)
		}
		if err := a.svc.Shutdown(sctx); err != nil {
			logger.Warn("pipeline.shutdown.failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}
