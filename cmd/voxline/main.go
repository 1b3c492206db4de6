// Command voxline runs the outbound voice-calling gateway: it accepts
// telephony media streams over websocket and drives sales-qualification
// conversations through STT, LLM and TTS providers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxline-ai/voxline/internal/dotenv"
	"github.com/voxline-ai/voxline/pkg/core/audio"
	"github.com/voxline-ai/voxline/pkg/core/convo"
	"github.com/voxline-ai/voxline/pkg/core/turn"
	"github.com/voxline-ai/voxline/pkg/gateway/config"
	"github.com/voxline-ai/voxline/pkg/gateway/server"
	"github.com/voxline-ai/voxline/pkg/gateway/stream"
	"github.com/voxline-ai/voxline/pkg/services/llm"
	"github.com/voxline-ai/voxline/pkg/services/stt"
	"github.com/voxline-ai/voxline/pkg/services/tts"
	"github.com/voxline-ai/voxline/pkg/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := dotenv.LoadFile(".env"); err != nil {
		logger.Error("load .env", "error", err)
		os.Exit(1)
	}
	if err := run(context.Background(), logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sessions, err := store.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer sessions.Close()

	var finalizer store.Finalizer = &store.LogFinalizer{Logger: logger}
	if cfg.PostgresDSN != "" {
		if err := store.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pg, err := store.NewPostgresFinalizer(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		finalizer = pg
	} else {
		logger.Warn("no postgres dsn configured, final call state is log-only")
	}

	if cfg.DeepgramAPIKey == "" {
		return errors.New("VOXLINE_DEEPGRAM_API_KEY is required")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("VOXLINE_GEMINI_API_KEY is required")
	}
	if cfg.ElevenLabsAPIKey == "" || cfg.ElevenLabsVoiceID == "" {
		return errors.New("VOXLINE_ELEVENLABS_API_KEY and VOXLINE_ELEVENLABS_VOICE_ID are required")
	}

	sttp := stt.NewDeepgram(cfg.DeepgramAPIKey)
	llmp, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Company)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}
	llmp.Model = cfg.GeminiModel
	ttsp := tts.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)

	var fillerPCM []byte
	if cfg.FillerClipPath != "" {
		fillerPCM, err = os.ReadFile(cfg.FillerClipPath)
		if err != nil {
			logger.Warn("filler clip unreadable, continuing without",
				"path", cfg.FillerClipPath, "error", err)
			fillerPCM = nil
		}
	}

	audioCfg := audio.DefaultConfig()
	dispatcher := stream.NewDispatcher(stream.Config{
		Audio: audioCfg,
		Turn: turn.Config{
			EnergyThreshold:       cfg.EnergyThreshold,
			MinUtterance:          cfg.MinUtterance,
			TrailingSilenceFrames: cfg.TrailingSilenceFrames,
			MaxBuffer:             cfg.MaxTurnBuffer,
		},
		BargeIn: turn.BargeInConfig{
			EnergyThreshold: cfg.EnergyThreshold,
			VoicedFrames:    cfg.BargeInFrames,
		},
		Convo: convo.Config{
			Company:         cfg.Company,
			TranscriptTail:  cfg.TranscriptTail,
			GenerateTimeout: cfg.GenerateTimeout,
			FillerDelay:     cfg.FillerDelay,
			SessionTTL:      cfg.SessionTTL,
		},
		Responder: stream.ResponderConfig{
			Audio:           audioCfg,
			FrameDuration:   cfg.FrameDuration,
			AbortCheckEvery: cfg.AbortCheckEvery,
			FillerDelay:     cfg.FillerDelay,
			FillerPCM:       fillerPCM,
		},
		EscalationDigit: cfg.EscalationDigit,
		SessionTTL:      cfg.SessionTTL,
		WriteTimeout:    cfg.WSWriteTimeout,
		FinalizeTimeout: cfg.FinalizeTimeout,
	}, stream.Dependencies{
		STT:       sttp,
		LLM:       llmp,
		TTS:       ttsp,
		Store:     sessions,
		Finalizer: finalizer,
		Logger:    logger,
	})

	srv := server.New(cfg, dispatcher, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting voxline gateway", "addr", cfg.Addr,
		"company", cfg.Company, "llm_model", llmp.Model)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
