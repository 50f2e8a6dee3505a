// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

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

	calls_api "github.com/rapidaai/aicc-pipeline/api/calls"
	"github.com/rapidaai/aicc-pipeline/config"
	internal_core "github.com/rapidaai/aicc-pipeline/internal/core"
	internal_pipeline "github.com/rapidaai/aicc-pipeline/internal/pipeline"
	internal_stt "github.com/rapidaai/aicc-pipeline/internal/stt"
	internal_vad "github.com/rapidaai/aicc-pipeline/internal/vad"
	internal_websocket "github.com/rapidaai/aicc-pipeline/internal/websocket"
	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger commons.Logger) error {
	urls := cfg.WSURLs()
	if len(urls) == 0 {
		return errors.New("no WebSocket consumer configured; set AICC_WS_URL")
	}

	var tokens internal_websocket.TokenProvider
	if cfg.WSAuthSecret != "" {
		tokens = internal_websocket.NewJWTTokenProvider(cfg.WSAuthSecret, cfg.WSClientID, cfg.TokenTTL(), logger)
	}
	ws := internal_websocket.NewManager(urls, internal_websocket.ManagerConfig{
		QueueSize:         cfg.WSQueueMaxSize,
		ReconnectInterval: cfg.ReconnectInterval(),
	}, tokens, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := internal_pipeline.Dependencies{
		VADFactory: func() internal_vad.Detector {
			return internal_vad.New(internal_vad.Config{
				ModelPath: cfg.VADModelPath,
				Threshold: cfg.VADThreshold,
			}, logger)
		},
	}

	if cfg.STTCredentials != "" {
		sttCfg := internal_stt.Config{
			CredentialsPath:  cfg.STTCredentials,
			Language:         cfg.STTLanguage,
			Model:            cfg.STTModel,
			Phrases:          internal_stt.LoadPhraseHints(cfg.STTPhrases, cfg.STTPhrasesPath, logger),
			PhraseBoost:      cfg.STTPhraseBoost,
			RotationInterval: cfg.RotationInterval(),
			AudioQueueSize:   cfg.STTAudioQueueMaxSize,
		}
		if err := sttCfg.ResolveProjectID(); err != nil {
			return err
		}
		client, err := internal_stt.NewSpeechClient(ctx, sttCfg)
		if err != nil {
			return err
		}
		defer client.Close()

		deps.NewBatch = func() internal_core.BatchBackend {
			return internal_stt.NewBatchTranscriber(client, sttCfg, logger)
		}
		sessions := internal_stt.NewSessionClient(client)
		deps.NewStream = func(onResult func(string, bool)) internal_pipeline.StreamSession {
			return internal_stt.NewContinuousSession(sessions, sttCfg, func(r internal_stt.Result) {
				onResult(r.Transcript, r.IsFinal)
			}, logger)
		}
	} else {
		logger.Warn("no STT credentials configured; turns will carry empty transcripts and be suppressed")
	}

	ctrl, err := internal_pipeline.NewController(cfg, ws, deps, logger)
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	engine := calls_api.NewEngine(ctrl, ctrl.HealthChecks(), logger)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler: engine,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("admission api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		ctrl.Shutdown(context.Background())
		return fmt.Errorf("admission api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown incomplete", "error", err)
	}
	ctrl.Shutdown(context.Background())
	return nil
}
