package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ws-rpc/config"
	"ws-rpc/middleware"
	"ws-rpc/registry"
	"ws-rpc/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(g *globals) *cobra.Command {
	var tcpListen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Sum and Echo operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg, tcpListen, logger)
		},
	}
	cmd.Flags().StringVar(&tcpListen, "tcp", "", "also serve framed TCP on this address")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, tcpListen string, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(
		server.WithLogger(logger),
		server.WithCodec(cfg.Codec),
		server.WithRegisterer(reg),
	)
	if err := srv.Register(&server.Calc{}); err != nil {
		return errors.Trace(err)
	}
	srv.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.HandlerTimeout > 0 {
		srv.Use(middleware.TimeoutMiddleware(cfg.Server.HandlerTimeout))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, srv)
	httpServer := &http.Server{Addr: cfg.Server.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return errors.Annotatef(err, "listening on %s", cfg.Server.Listen)
	}
	defer ln.Close()
	var tl net.Listener
	if tcpListen != "" {
		if tl, err = net.Listen("tcp", tcpListen); err != nil {
			return errors.Annotatef(err, "listening on %s", tcpListen)
		}
		defer tl.Close()
	}

	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return errors.Trace(err)
		}
		defer etcd.Close()
		advertise := cfg.Registry.Advertise
		if advertise == "" {
			advertise = "ws://" + ln.Addr().String() + cfg.Server.Path
		}
		inst := registry.ServiceInstance{Addr: advertise, Weight: 1, Version: "1"}
		if err := srv.Advertise(ctx, etcd, cfg.Registry.Service, inst, cfg.Registry.TTL); err != nil {
			return errors.Trace(err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	logger.Info("serving websocket", zap.String("listen", ln.Addr().String()), zap.String("path", cfg.Server.Path))
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return errors.Trace(err)
		}
		return nil
	})

	if tl != nil {
		logger.Info("serving framed tcp", zap.String("listen", tl.Addr().String()))
		g.Go(func() error {
			if err := srv.Serve(tl); !errors.Is(err, server.ErrShutdown) {
				return errors.Trace(err)
			}
			return nil
		})
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{Addr: cfg.Server.MetricsListen, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("serving metrics", zap.String("listen", cfg.Server.MetricsListen))
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Trace(err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(sctx)
		}
		return httpServer.Shutdown(sctx)
	})
	return g.Wait()
}
