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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/ditado/adapters/recorder"
	"github.com/satriahrh/ditado/adapters/storage"
	"github.com/satriahrh/ditado/internal/api"
	"github.com/satriahrh/ditado/internal/auth"
	"github.com/satriahrh/ditado/internal/config"
	"github.com/satriahrh/ditado/internal/logging"
	"github.com/satriahrh/ditado/internal/saga"
	"github.com/satriahrh/ditado/internal/telemetry"
	"github.com/satriahrh/ditado/internal/websocket"
	"github.com/satriahrh/ditado/internal/workflow"
	"github.com/satriahrh/ditado/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:   cfg.Telemetry.ServiceName,
		Environment:   cfg.Environment,
		TraceExporter: cfg.Telemetry.TraceExporter,
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:  cfg.Telemetry.OTLPInsecure,
		Metrics:       cfg.Telemetry.Metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Initialize adapters
	store, err := storage.NewFileStore(cfg.Media.Directory, logger)
	if err != nil {
		return err
	}

	device, closeDevice, err := newMediaDevice(cfg.Device, logger)
	if err != nil {
		return err
	}
	rec := recorder.NewRecorder(device, cfg.Media.RecordingExtension, logger)

	speechToText, err := newSpeechToText(cfg, logger)
	if err != nil {
		return err
	}
	textToSpeech, err := newTextToSpeech(cfg, logger)
	if err != nil {
		return err
	}
	converter, err := newConverter(cfg.Conversion, logger)
	if err != nil {
		return err
	}

	history, err := newHistory(ctx, cfg.History, logger)
	if err != nil {
		return err
	}
	archive, err := newArchive(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	events, embedded, err := newEvents(cfg.Events, logger)
	if err != nil {
		return err
	}

	// Workflows
	transcriptionDeps := workflow.Dependencies{
		Store:        store,
		Converter:    converter,
		Tokens:       newTokens(cfg.SpeechToText.Provider, cfg.Token, logger),
		SpeechToText: speechToText,
		Logger:       logger,
	}
	transcription := workflow.NewTranscription(transcriptionDeps, transcriptionOptions(cfg))

	synthesisDeps := workflow.Dependencies{
		Store:        store,
		Tokens:       newTokens(cfg.TextToSpeech.Provider, cfg.Token, logger),
		TextToSpeech: textToSpeech,
		Player:       rec,
		Logger:       logger,
	}
	synthesis := workflow.NewSynthesis(synthesisDeps, synthesisOptions(cfg))

	// Initialize WebSocket hub; the orchestrator is attached once it exists
	hub := websocket.NewHub(nil, cfg.API.CORSOrigins, metrics, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Recorder:      rec,
		Store:         store,
		Sagas:         saga.NewManager(logger, tel.Tracer, metrics),
		Transcription: transcription,
		Synthesis:     synthesis,
		Presenter:     usecase.NewPresenter(cfg.Workflow.BusyLabel, hub),
		History:       history,
		Archive:       archive,
		Events:        events,
		Publisher:     hub,
		Metrics:       metrics,
		Logger:        logger,
	})
	hub.SetController(orchestrator)

	var issuer *auth.Issuer
	if cfg.API.AuthEnabled {
		issuer, err = auth.NewIssuer(cfg.API.JWTSecret, cfg.API.TokenTTL, cfg.API.Clients)
		if err != nil {
			return fmt.Errorf("failed to create token issuer: %w", err)
		}
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.API.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.API.CORSOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	// Initialize API routes
	api.InitRoutes(e, api.Deps{
		Service:        orchestrator,
		Hub:            hub,
		Issuer:         issuer,
		MetricsHandler: tel.MetricsHandler,
		Logger:         logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := e.Start(cfg.HTTP.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Server started",
		zap.String("address", cfg.HTTP.Address()),
		zap.String("stt", cfg.SpeechToText.Provider),
		zap.String("tts", cfg.TextToSpeech.Provider),
		zap.String("device", cfg.Device.Backend),
		zap.Bool("conversion", converter != nil))

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := e.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	orchestrator.Cancel()
	orchestrator.Wait()
	stopHub()

	if err := rec.Close(); err != nil {
		errs = append(errs, err)
	}
	if closeDevice != nil {
		if err := closeDevice(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := history.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("history close: %w", err))
	}
	if err := events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events close: %w", err))
	}
	embedded.Shutdown()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
