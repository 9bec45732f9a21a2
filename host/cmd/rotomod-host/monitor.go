package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rotomod/host/link"
	"rotomod/host/monitor"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve live position and events over WebSocket",
		Long: "Streams from the module and fans the records out to WebSocket\n" +
			"clients as JSON, coalescing position bursts so a browser UI is\n" +
			"not flooded at interrupt rate.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			cl, port, err := connect(cfg)
			if err != nil {
				return err
			}
			defer port.Close()
			if err := configureModule(cl, cfg.Module); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := monitor.NewServer(logger, monitor.ServerConfig{
				WrapPoint: int16(cfg.Module.WrapPoint),
				Unipolar:  cfg.Module.Unipolar,
			})
			mux := http.NewServeMux()
			s.Register(mux, cfg.Monitor.Path)
			srv := &http.Server{Addr: cfg.Monitor.Listen, Handler: mux}

			if err := cl.StartStream(); err != nil {
				return err
			}
			defer cl.StopStream()

			records := make(chan link.Record, 256)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				s.Hub().Run(gctx)
				return nil
			})
			g.Go(func() error {
				s.RunBroadcaster(gctx, records)
				return nil
			})
			g.Go(func() error {
				defer close(records)
				return readRecords(gctx, cl, logger, func(rec link.Record) {
					// Drop on backpressure; the broadcaster keeps the
					// latest position anyway and events are rare.
					select {
					case records <- rec:
					default:
					}
				})
			})
			g.Go(func() error {
				logger.Info("monitor listening",
					"addr", cfg.Monitor.Listen, "path", cfg.Monitor.Path)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	addModuleFlags(cmd)
	cmd.Flags().StringVar(&flagListen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}
