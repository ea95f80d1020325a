package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatchq/internal/config"
	"dispatchq/internal/constants"
	"dispatchq/internal/database"
	"dispatchq/internal/models"
	"dispatchq/internal/service"
	"dispatchq/internal/tracing"
	"dispatchq/internal/versioning"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes unmasked addresses)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		info := versioning.NewBuildInfo(Version, GitCommit, BuildTime)
		fmt.Printf("dispatchq %s\nAPI Version: %s\nBuild Time: %s\nGit Commit: %s\n", info.Build, info.API, info.BuildTime, info.Commit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
		"api":     versioning.CurrentVersion.String(),
	}).Info("Starting dispatchq")

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel)

	tracingManager := tracing.NewTracingManager(tracing.ConfigFromModel(cfg.Tracing), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.WithField("driver", db.Driver()).Info("Queue store ready")

	transmitter, closer, err := buildTransmitter(cfg.Channel, logger, *verbose)
	if err != nil {
		return fmt.Errorf("failed to configure channel: %w", err)
	}
	defer closer.Close()

	clock := service.SystemClock()
	events := service.NewEventRecorder(db, clock, logger)
	templates := service.NewTemplateResolver(db, clock, logger)
	policy := service.PolicyFromConfig(cfg)

	processorCfg := service.ProcessorConfigFrom(cfg.Processor)
	if cfg.Processor.InstanceID == "" {
		if host := hostname(); host != "" {
			processorCfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
		}
	}

	enqueuer := service.NewEnqueuer(db, events, templates, policy, clock, logger)
	processor := service.NewProcessor(db, events, transmitter, clock, processorCfg, logger)
	sender := service.NewSender(templates, policy, transmitter, logger)
	admin := service.NewAdmin(db, events, processor, clock, logger)

	ctx = service.WithVerboseLogging(ctx, *verbose)

	if cfg.Processor.Enabled {
		if err := processor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processor: %w", err)
		}
		defer processor.Stop()
	} else {
		logger.Info("Dispatch processor disabled; this instance only accepts and administers messages")
	}

	scheduler := service.NewScheduler(admin, cfg.RetentionDays, cfg.CleanupIntervalHours,
		time.Duration(cfg.Processor.StaleClaimMinutes)*time.Minute, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		if !*verbose {
			applyLogLevel(logger, next.LogLevel)
		}
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, Services{
		Enqueuer:  enqueuer,
		Sender:    sender,
		Admin:     admin,
		Templates: templates,
		Events:    events,
		Processor: processor,
		Channel:   transmitter,
		Store:     db,
	}, logger, *verbose)

	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the configured level; -verbose forces debug
func applyLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}
