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

	"github.com/ideastream/huddle/internal/adapters/auth"
	router "github.com/ideastream/huddle/internal/adapters/http"
	"github.com/ideastream/huddle/internal/adapters/notify"
	"github.com/ideastream/huddle/internal/app"
	"github.com/ideastream/huddle/internal/app/orch"
	"github.com/ideastream/huddle/internal/config"
	"github.com/ideastream/huddle/internal/core"
	"github.com/ideastream/huddle/internal/media"
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
		log.Fatal().Err(err).Msg("failed to load config")
	}

	engine := media.NewEngine(media.RTCConfig{
		ListenIP:    cfg.RTC.ListenIP,
		AnnouncedIP: cfg.RTC.AnnouncedIP,
		MinPort:     cfg.RTC.MinPort,
		MaxPort:     cfg.RTC.MaxPort,
	})
	// A dead worker strands every room pinned to it; running on with a
	// reduced pool would corrupt room-to-worker assignment, so exit and
	// let the supervisor restart the process.
	engine.OnWorkerDied(func(workerID int) {
		log.Error().Int("worker", workerID).Msg("media worker died, exiting in 2s")
		time.Sleep(2 * time.Second)
		os.Exit(1)
	})
	if err := engine.Start(cfg.Workers); err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}

	registry := app.NewRegistry(engine, media.DefaultCodecs())

	var membership core.Membership = auth.AllowAll{}
	if cfg.BackendURL != "" {
		membership = auth.NewBackend(cfg.BackendURL, cfg.InternalToken)
	} else {
		log.Warn().Msg("no backend_url configured, membership checks disabled")
	}

	var events core.CallEvents = notify.Noop{}
	if cfg.Redis.URL != "" {
		pub, err := notify.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer pub.Close()
		events = pub
	}

	orchestrator := &orch.Orchestrator{
		Registry:           registry,
		Membership:         membership,
		Events:             events,
		Policy:             app.SimplePolicy{},
		MaxIncomingBitrate: cfg.MaxIncomingBitrate,
	}

	r := router.SetupRouter(ctx, cfg, orchestrator)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", engine.Workers()).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	engine.Stop()
	log.Info().Msg("Server exited gracefully")
}
