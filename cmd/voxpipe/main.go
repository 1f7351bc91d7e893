// Command voxpipe runs the audio transcription service: a persistent
// single-lane job queue feeding local whisper.cpp inference with remote
// provider fallback, exposed over a REST API and an SSE event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillsenselab/voxpipe/api"
	"github.com/skillsenselab/voxpipe/artifact"
	"github.com/skillsenselab/voxpipe/audio"
	"github.com/skillsenselab/voxpipe/component"
	"github.com/skillsenselab/voxpipe/config"
	"github.com/skillsenselab/voxpipe/job"
	"github.com/skillsenselab/voxpipe/logger"
	"github.com/skillsenselab/voxpipe/observability"
	"github.com/skillsenselab/voxpipe/secrets"
	"github.com/skillsenselab/voxpipe/server"
	"github.com/skillsenselab/voxpipe/sse"
	"github.com/skillsenselab/voxpipe/transcription"
	"github.com/skillsenselab/voxpipe/transcription/local"
	"github.com/skillsenselab/voxpipe/transcription/local/whispercpp"
	"github.com/skillsenselab/voxpipe/transcription/openai"
	"github.com/skillsenselab/voxpipe/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voxpipe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Init(cfg.Logging)
	logger.RegisterDefaults(
		"queue", "orchestrator", "registry",
		"local-provider", "openai-provider",
		"artifact-cleaner", "event-bridge", "api", "server",
	)
	log := logger.GetGlobalLogger()
	log.Info("Starting service", map[string]interface{}{
		"service":     cfg.Name,
		"version":     version.GetShortVersion(),
		"environment": cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Init(ctx, cfg.Name, version.Version, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("Telemetry shutdown failed", logger.ErrorFields("telemetry_shutdown", err))
		}
	}()

	// Providers resolve credentials through the environment at call time;
	// nothing secret is ever written into provider instances or the store.
	sec := secrets.NewEnvStore()

	registry := transcription.NewRegistry(cfg, sec)
	registry.RegisterFactory(local.Kind, local.Factory(whispercpp.Load))
	registry.RegisterFactory(openai.Kind, openai.Factory())

	orchestrator := transcription.NewOrchestrator(registry, nil)

	// Queue events fan out to the SSE hub and the metrics recorder.
	sseComponent := sse.NewComponent()
	publishers := job.MultiPublisher{api.NewEventBridge(sseComponent.Hub(), log)}
	if cfg.Telemetry.Enabled {
		metrics, err := observability.NewMetrics(observability.Meter(cfg.Name))
		if err != nil {
			return fmt.Errorf("creating metrics: %w", err)
		}
		publishers = append(publishers, observability.NewJobRecorder(metrics))
	}

	store := job.NewStore(cfg.Queue.StorePath)
	settings := func() transcription.Settings { return cfg.Settings }
	queue := job.NewQueue(orchestrator, store, publishers, settings)

	cleaner := artifact.NewCleaner(cfg.Artifacts, log)

	srv := server.New(cfg.Server, log)

	registryOfComponents := component.NewRegistry()
	for _, c := range []component.Component{
		sseComponent,
		queue,
		cleaner,
		server.NewComponent(srv),
	} {
		if err := registryOfComponents.Register(c); err != nil {
			return err
		}
	}

	srv.RegisterDefaultEndpoints(cfg.Name, registryOfComponents.HealthAll)
	api.NewHandler(queue, registry, cfg, sseComponent.Hub(), audio.NewDecoder(), log).Register(srv)

	if err := registryOfComponents.StartAll(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = registryOfComponents.StopAll(stopCtx)
		return err
	}

	log.Info("Service ready", map[string]interface{}{"addr": srv.Addr()})
	<-ctx.Done()
	log.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := registryOfComponents.StopAll(stopCtx); err != nil {
		return err
	}

	log.Info("Service stopped")
	return nil
}
