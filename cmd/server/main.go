package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/openworship/cast/internal/adapters/http"
	wsignal "github.com/openworship/cast/internal/adapters/signal"
	"github.com/openworship/cast/internal/app"
	"github.com/openworship/cast/internal/cache"
	"github.com/openworship/cast/internal/config"
	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/midi"
	"github.com/openworship/cast/internal/repository"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	var slugs cache.SlugDirectory
	if cfg.RedisAddr != "" {
		redisSlugs, err := cache.NewRedisSlugDirectory(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "cast")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect slug directory")
		}
		slugs = redisSlugs
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis slug directory")
	} else {
		slugs = cache.NewMemorySlugDirectory()
	}
	defer slugs.Close()

	db, err := repository.OpenDB(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	setlists := repository.NewGormSetlistRepository(db)

	rooms := core.NewManager(ctx, slugs)
	dispatch := app.NewDispatcher(rooms)
	dispatch.SetResumeGrace(cfg.ResumeGrace)
	newDecoder := func() *midi.Decoder {
		return midi.NewDecoder(cfg.MidiChannel, midi.WithPairWindow(cfg.PairWindow))
	}

	ctl := wsignal.NewController(rooms, dispatch, setlists, newDecoder)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.PingPeriod = cfg.PingPeriod

	r := router.SetupRouter(ctx, cfg, rooms, ctl, setlists)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("cast server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
