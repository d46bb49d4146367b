package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/adapters/audio"
	"github.com/dkeye/Concierge/internal/adapters/audio/device"
	router "github.com/dkeye/Concierge/internal/adapters/http"
	"github.com/dkeye/Concierge/internal/adapters/panel"
	"github.com/dkeye/Concierge/internal/adapters/relay"
	"github.com/dkeye/Concierge/internal/adapters/rtc"
	"github.com/dkeye/Concierge/internal/adapters/token"
	"github.com/dkeye/Concierge/internal/app/session"
	"github.com/dkeye/Concierge/internal/app/visual"
	"github.com/dkeye/Concierge/internal/config"
	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
	"github.com/dkeye/Concierge/internal/metrics"
)

const analyserSize = 2048

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	audioCtx, err := device.NewContext()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audio")
	}
	defer func() {
		if err := audioCtx.Close(); err != nil {
			log.Error().Err(err).Msg("close audio context")
		}
	}()

	m := metrics.New("concierge")
	micTap := audio.NewAnalyser(analyserSize)
	assistantTap := audio.NewAnalyser(analyserSize)

	capture := audio.NewCapture(cfg.Audio, audioCtx.OpenInput, device.NewEncoder, micTap)
	broker := token.NewBroker(cfg.TokenURL, cfg.HTTPTimeout)
	newPeer := func(opts domain.SessionOptions) (core.PeerManager, error) {
		dec, err := device.NewDecoder(cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("opus decoder: %w", err)
		}
		out, err := audioCtx.OpenOutput(cfg.Audio)
		if err != nil {
			return nil, err
		}
		player := audio.NewPlayer(cfg.Audio, dec, cfg.ResumeGap,
			audio.WithAnalyser(assistantTap),
			audio.WithOutput(out),
		)
		if err := player.Start(); err != nil {
			_ = player.Close()
			return nil, err
		}
		return rtc.NewManager(rtc.Config{
			ICEServers:   cfg.ICEServers,
			SignalingURL: cfg.SignalingURL,
			Model:        opts.Model,
			DataChannel:  cfg.DataChannel,
			HTTPTimeout:  cfg.HTTPTimeout,
		}, player), nil
	}

	ctl := session.NewController(broker, capture, newPeer, session.Options{
		Defaults:      cfg.Options(),
		AssistantName: cfg.AssistantName,
		Metrics:       m,
	})
	defer ctl.Close()

	hub := panel.NewHub(panel.SimplePolicy{}, ctl.End)
	unsubscribe := ctl.Subscribe(hub.PublishStatus)
	defer unsubscribe()

	vis := visual.New(micTap, assistantTap, cfg.VisualBars, cfg.VisualInterval)
	go vis.Run(ctx, func(l visual.Levels) {
		hub.PublishLevels(l)
		if cfg.VisualConsole && ctl.Snapshot().Connected() {
			fmt.Fprintf(os.Stdout, "\r%s", strings.ReplaceAll(vis.Render(l), "\n", "  "))
		}
	})

	rel := relay.New(relay.Config{
		APIKey:      cfg.APIKey,
		UpstreamURL: cfg.UpstreamSessionsURL,
		Defaults:    cfg.Options(),
		Timeout:     cfg.HTTPTimeout,
	}, m)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions: ctl,
		Limiter:  panel.NewStartLimiter(cfg.StartLimit, cfg.StartWindow),
		Hub:      hub,
		Relay:    rel,
		Metrics:  m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("assistant", cfg.AssistantName).Msg("Concierge started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	ctl.End()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
