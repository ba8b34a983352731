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

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/cryguy/swcache"
	"github.com/cryguy/swcache/internal/cachestore"
	"github.com/cryguy/swcache/internal/clients"
	"github.com/cryguy/swcache/internal/metrics"
	"github.com/cryguy/swcache/internal/swscript"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker host in front of the origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(a.v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, s, s.logger())
		},
	}
	cmd.Flags().String("listen", "", "address to listen on")
	_ = a.v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	return cmd
}

// openStorage returns the configured cache store and its closer.
func openStorage(s settings) (swcache.CacheStorage, func() error, error) {
	switch s.Store {
	case storeMemory:
		return cachestore.NewMemory(), func() error { return nil }, nil
	default:
		db, err := cachestore.OpenSQLite(s.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

// server is everything serve wires together.
type server struct {
	host    *swcache.Host
	worker  *swcache.CacheFirst
	hub     *clients.Hub
	metrics *metrics.Collector
	mux     *http.ServeMux
}

func newServer(s settings, storage swcache.CacheStorage, logger hclog.Logger) (*server, error) {
	if err := s.requireOrigin(); err != nil {
		return nil, err
	}
	cfg, err := s.workerConfig()
	if err != nil {
		return nil, err
	}
	fetcher, err := s.fetcher(false)
	if err != nil {
		return nil, err
	}
	script, err := swscript.Build(cfg, true)
	if err != nil {
		return nil, err
	}

	srv := &server{
		hub:     clients.NewHub(logger),
		metrics: metrics.New(),
		mux:     http.NewServeMux(),
	}
	common := []swcache.Option{
		swcache.WithLogger(logger),
		swcache.WithMetrics(srv.metrics),
		swcache.WithScope(s.Origin + "/"),
	}
	srv.host, err = swcache.NewHost(fetcher, append(common, swcache.WithClients(srv.hub))...)
	if err != nil {
		return nil, err
	}
	srv.worker, err = swcache.NewCacheFirst(cfg, storage, fetcher, common...)
	if err != nil {
		return nil, err
	}

	srv.mux.Handle(swscript.Path, swscript.Handler(script))
	srv.mux.Handle(clients.Path, srv.hub)
	srv.mux.Handle("/metrics", srv.metrics.Handler())
	srv.mux.Handle("/", srv.host)
	return srv, nil
}

func runServe(ctx context.Context, s settings, logger hclog.Logger) error {
	storage, closeStorage, err := openStorage(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("closing cache store", "error", err)
		}
	}()

	srv, err := newServer(s, storage, logger)
	if err != nil {
		return err
	}

	// A failed install leaves requests passing straight through to the origin.
	if _, err := srv.host.Register(ctx, srv.worker); err != nil {
		logger.Error("worker install failed, serving from origin", "error", err)
	}

	httpSrv := &http.Server{
		Addr:              s.Listen,
		Handler:           srv.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", s.Listen, "origin", s.Origin, "cache", s.CacheName)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := srv.host.Drain(shutdownCtx); err != nil {
		logger.Warn("draining background work", "error", err)
	}
	return nil
}
