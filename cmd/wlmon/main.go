package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/wlproto/internal/config"
	"github.com/danmuck/wlproto/internal/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "cmd/wlmon/config.toml", "monitor config file")
	flag.Parse()

	logger := observability.InitLogger("wlmon")
	cfg, err := config.LoadMonitorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wlmon: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := newMonitor(cfg)
	srv := &http.Server{Addr: cfg.AdminAddr, Handler: newAdminRouter(mon, cfg.CorsOrigins)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.AdminAddr).Msg("admin listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("wlmon stopped")
		os.Exit(1)
	}
}
