package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"enginegate/internal/config"
	"enginegate/internal/events"
	"enginegate/internal/httpapi"
	"enginegate/internal/manager"
)

var _ httpapi.Service = (*manager.Manager)(nil)

// publishers fans events out to the log, Prometheus and, when configured,
// the audit file. The returned close func flushes the audit sink.
func publishers(cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) (events.Publisher, func(), error) {
	metrics, err := events.NewMetricsPublisher(reg)
	if err != nil {
		return nil, nil, err
	}
	pubs := events.Multi{events.NewLogPublisher(log.With().Str("component", "events").Logger()), metrics}
	closeFn := func() {}
	if cfg.AuditLog != "" {
		audit, err := events.NewAuditPublisher(cfg.AuditLog)
		if err != nil {
			return nil, nil, err
		}
		pubs = append(pubs, audit)
		closeFn = func() { _ = audit.Close() }
	}
	return pubs, closeFn, nil
}

// loadBackends brings every configured backend up concurrently. A backend
// that fails is logged and skipped; the gateway serves whatever came up.
func loadBackends(ctx context.Context, mgr *manager.Manager, cfg config.Config, log zerolog.Logger) int {
	var g errgroup.Group
	loaded := make([]bool, len(cfg.Backends))
	for i, spec := range cfg.Backends {
		g.Go(func() error {
			st, err := mgr.LoadModel(ctx, spec)
			if err != nil {
				log.Error().Err(err).Str("backend", spec.ID).Msg("backend load failed")
				return nil
			}
			loaded[i] = true
			log.Info().Str("backend", st.ID).Str("engine", st.Engine).Str("base_url", st.BaseURL).Int("pid", st.PID).Msg("backend ready")
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range loaded {
		if ok {
			n++
		}
	}
	return n
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, closePub, err := publishers(cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer closePub()

	mc, err := cfg.ManagerConfig(log, pub)
	if err != nil {
		return err
	}
	mgr, err := manager.New(mc)
	if err != nil {
		return err
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log)
	httpapi.SetRequestLogLevel(cfg.LogLevel)

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr, muxOptions(cfg, baseCtx)...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Str("version", version).Int("backends", len(cfg.Backends)).Msg("enginegate listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	n := loadBackends(ctx, mgr, cfg, log)
	log.Info().Int("ready", n).Int("configured", len(cfg.Backends)).Msg("startup complete")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server error")
			_ = mgr.ShutdownAll(cfg.ShutdownGrace.D())
			return err
		}
	}

	// Stop routing new work, drain backends, then close the listener.
	grace := cfg.ShutdownGrace.D()
	shutdownErr := mgr.ShutdownAll(grace)
	if shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("backend shutdown")
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	log.Info().Msg("stopped")
	return shutdownErr
}

func muxOptions(cfg config.Config, base context.Context) []httpapi.Option {
	opts := []httpapi.Option{
		httpapi.WithBaseContext(base),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithLoadTimeout(cfg.HTTP.LoadTimeout.D()),
	}
	if c := cfg.HTTP.CORS; c.Enabled {
		opts = append(opts, httpapi.WithCORS(c.AllowedOrigins, c.AllowedMethods, c.AllowedHeaders))
	}
	return opts
}
