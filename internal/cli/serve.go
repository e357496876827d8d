package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"finanzgw/internal/finanzgw"
	"finanzgw/internal/logging"
	"finanzgw/internal/monitoring"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and the metrics server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := configFromContext(ctx)
	l := logging.FromContext(ctx)

	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	svc, err := finanzgw.NewService(cfg, finanzgw.Options{
		Storage: storage,
		Metrics: metrics,
		Logger:  l,
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	mon := monitoring.NewServer(&cfg.Monitoring, reg, svc.Ready, l)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(fmt.Errorf("listen %s: %w", addr, err), mon.Stop(stopCtx))
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeoutDuration(),
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info("finanzgw listening", "addr", addr, "origin", cfg.Server.Origin, "version", cfg.Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-serveErr:
		err = fmt.Errorf("server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if stopErr := mon.Stop(shutdownCtx); stopErr != nil {
		l.Error("stop monitoring", "err", stopErr)
	}
	l.Info("finanzgw stopped")
	return err
}
