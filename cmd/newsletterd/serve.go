package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
	"github.com/mohammad-safakhou/newsletter/internal/runtime"
	"github.com/mohammad-safakhou/newsletter/internal/scheduler"
	"github.com/mohammad-safakhou/newsletter/internal/server"
)

const (
	runTimeout      = 15 * time.Minute
	shutdownTimeout = 30 * time.Second
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	return serve
}

func serve(ctx context.Context, cfg *config.Config) error {
	svc, err := runtime.New(ctx, cfg, runtime.Options{LogOutput: os.Stderr})
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(os.Stderr, "SERVER")
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	opts := []server.Option{
		server.WithStore(svc.Store),
		server.WithArchive(svc.Archive),
		server.WithJWTSecret(cfg.Server.JWTSecret),
		server.WithRunTimeout(runTimeout),
		server.WithLogger(logger),
	}
	if svc.Telemetry != nil {
		opts = append(opts, server.WithMetrics(svc.Telemetry.Handler()))
	}
	srv := server.New(svc, opts...)

	schedOpts := []scheduler.Option{scheduler.WithLogger(runtime.NewLogger(os.Stderr, "SCHEDULER"))}
	if rs, ok := svc.Store.(*runstore.RedisStore); ok {
		schedOpts = append(schedOpts, scheduler.WithLocker(scheduler.RedisLocker{Client: rs.Client()}))
	}
	sched, err := scheduler.New(cfg.Schedules, svc, schedOpts...)
	if err != nil {
		return fmt.Errorf("schedules: %w", err)
	}
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	go sched.Start(schedCtx)
	for name, at := range sched.Next() {
		logger.Printf("schedule %s next fires at %s", name, at.Format(time.RFC3339))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Address) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	stopSched()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	sched.Wait()
	return nil
}
