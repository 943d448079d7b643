package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/roomhub/internal/adapters/http"
	"github.com/dkeye/roomhub/internal/adapters/history"
	"github.com/dkeye/roomhub/internal/adapters/rtc"
	"github.com/dkeye/roomhub/internal/app"
	"github.com/dkeye/roomhub/internal/app/orch"
	"github.com/dkeye/roomhub/internal/config"
	"github.com/dkeye/roomhub/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("roomhub stopped")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	ice, err := rtc.BuildWebRTCConfig(cfg.ICEServers)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close history store")
		}
	}()

	defaultRoom := domain.NormalizeRoomName(cfg.DefaultRoom)
	o := &orch.Orchestrator{
		Registry:     app.NewRegistry(),
		Rooms:        app.NewRoomManager(defaultRoom),
		Policy:       app.SimplePolicy{},
		History:      store,
		DefaultRoom:  defaultRoom,
		HistoryLimit: cfg.HistoryLimit,
		StoreTimeout: cfg.Storage.Timeout,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, ice),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("default_room", string(defaultRoom)).Msg("roomhub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
