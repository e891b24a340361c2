package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stream-orchestrator/internal/api"
	"stream-orchestrator/internal/orchestrator"
	"stream-orchestrator/internal/platform/config"
	"stream-orchestrator/internal/platform/logger"
	"stream-orchestrator/internal/platform/metrics"
	"stream-orchestrator/internal/supervisor"
	"stream-orchestrator/internal/transport/mqtt"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.LoadOrchestrator()

	log := logger.NewWithConfig(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})

	presets, err := loadPresets(cfg)
	if err != nil {
		log.Error("load scene presets", "error", err, "file", cfg.ScenesFile)
		os.Exit(1)
	}

	met := metrics.New()
	opts := []supervisor.Option{
		supervisor.WithLogger(log),
		supervisor.WithRecorder(met),
		supervisor.WithConfigProvider(presets),
		supervisor.WithEngineOptions(orchestrator.WithCommandBuffer(cfg.CommandBuffer)),
	}

	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.MQTT, log)
		if err != nil {
			log.Error("mqtt connect", "error", err)
			os.Exit(1)
		}
		opts = append(opts, supervisor.WithPublisher(mqtt.NewStatePublisher(broker, broker.Topics(), broker.QoS())))
	}

	sup := supervisor.New(supervisor.Config{
		IdleGrace:       cfg.IdleGrace,
		StaleAfter:      cfg.StaleAfter,
		SweepInterval:   cfg.SweepInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, opts...)

	if broker != nil {
		bridge := mqtt.NewBridge(broker, sup, broker.Topics(), broker.QoS(), log)
		if err := bridge.Start(); err != nil {
			log.Error("mqtt bridge", "error", err)
			os.Exit(1)
		}
	}

	h := api.NewHandler(sup, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", met.Handler(func() {
		met.SetActiveStreams(sup.Count())
		met.SetActiveSubscribers(sup.TotalSubscribers())
	}).ServeHTTP)
	h.Routes(r)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: otelhttp.NewHandler(r, logger.Service)}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"scenes_file", cfg.ScenesFile,
		"idle_grace", cfg.IdleGrace,
		"mqtt", cfg.MQTT.Enabled,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	exit := 0
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		exit = 1
	}
	if err := sup.ShutdownAll(ctx); err != nil {
		log.Error("stream shutdown error", "error", err)
		exit = 1
	}
	if broker != nil {
		broker.Close()
	}

	log.Info("server stopped")
	os.Exit(exit)
}

// loadPresets reads SCENES_FILE when set. Otherwise every stream gets an
// empty scene list with the tick and loop settings from the environment.
func loadPresets(cfg config.Orchestrator) (*orchestrator.Presets, error) {
	if cfg.ScenesFile != "" {
		return orchestrator.LoadPresets(cfg.ScenesFile)
	}
	p := orchestrator.DefaultPresets()
	p.Default.TickIntervalMS = int64(cfg.TickIntervalMS)
	p.Default.LoopScenes = cfg.LoopScenes
	return p, nil
}
