package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/chorus/internal/assistant"
	"github.com/antoniostano/chorus/internal/config"
	"github.com/antoniostano/chorus/internal/daily"
	"github.com/antoniostano/chorus/internal/httpapi"
	"github.com/antoniostano/chorus/internal/observability"
	"github.com/antoniostano/chorus/internal/pipeline"
	"github.com/antoniostano/chorus/internal/transcript"
	"github.com/antoniostano/chorus/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.ValidateSession(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer store.Close()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	transport, err := daily.Connect(runCtx, daily.Params{
		RoomURL:              cfg.RoomURL,
		Token:                cfg.RoomToken,
		BotName:              cfg.BotName,
		AudioInEnabled:       true,
		AudioOutEnabled:      true,
		MicrophoneOutEnabled: true,
		CameraOutEnabled:     false,
		Metrics:              metrics,
	})
	if err != nil {
		log.Fatalf("room connect failed: %v", err)
	}
	defer transport.Leave()
	log.Printf("joined room %s as %q", cfg.RoomURL, cfg.BotName)

	service, err := voice.NewService(voice.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIRealtimeURL,
		Model:   cfg.OpenAIRealtimeModel,
		Session: voice.SessionProperties{
			Instructions:  cfg.Instructions,
			TurnDetection: voice.TurnDetectionNone,
		},
		InSampleRate:  cfg.AudioInSampleRate,
		OutSampleRate: cfg.AudioOutSampleRate,
	})
	if err != nil {
		log.Fatalf("voice service init failed: %v", err)
	}

	chain, err := assistant.BuildPipeline(transport, service)
	if err != nil {
		log.Fatalf("pipeline assembly failed: %v", err)
	}
	task := pipeline.NewTask(chain, pipeline.Params{
		AudioInSampleRate:  cfg.AudioInSampleRate,
		AudioOutSampleRate: cfg.AudioOutSampleRate,
		AllowInterruptions: cfg.AllowInterruptions,
		EnableMetrics:      cfg.EnableMetrics,
	})

	controller := assistant.NewController(task, transport, cfg.RoomURL, store, metrics)
	transport.SetEventHandler(controller)

	if cfg.EnableMetrics {
		api := httpapi.New(cfg.RoomURL, cfg.BotName, task, transport, store, metrics)
		httpServer := &http.Server{
			Addr:    cfg.BindAddr,
			Handler: api.Router(),
		}
		go func() {
			log.Printf("status server listening on %s", cfg.BindAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("listen error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("graceful shutdown failed: %v", err)
				_ = httpServer.Close()
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutdown signal received")
		task.Cancel()
	}()

	runner := pipeline.NewRunner()
	if err := runner.Run(runCtx, task); err != nil {
		metrics.PipelineFailures.WithLabelValues("runner").Inc()
		log.Fatalf("pipeline failed: %v", err)
	}
	log.Printf("session complete")
}
