package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pushrelay/pushrelay/admin"
	"github.com/pushrelay/pushrelay/cfg"
	"github.com/pushrelay/pushrelay/notify"
	"github.com/pushrelay/pushrelay/push"
	"github.com/pushrelay/pushrelay/sched"
	"github.com/pushrelay/pushrelay/store"
	"github.com/pushrelay/pushrelay/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Pushrelay - Change Notification Dispatcher")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	if !cfg.Config.Push.Enabled {
		log.Warn().Msg("Push dispatch disabled by configuration, exiting")
		return
	}

	// Open the SQLite-backed stores
	storePath := filepath.Join(cfg.Config.DataDir, "pushrelay.db")
	st, err := store.Open(storePath, cfg.Config.Store.BusyTimeoutMS)
	if err != nil {
		log.Fatal().Err(err).Str("path", storePath).Msg("Failed to open store")
		return
	}
	defer st.Close()

	// Concurrency services shared by every notifier
	scheduler := sched.NewScheduler()
	defer scheduler.Stop()
	executor := sched.NewExecutor(
		cfg.Config.Push.DeliveryWorkers,
		cfg.Config.Push.DeliveryBacklog,
	)
	defer executor.Stop()

	// Subclass expansion over the configured class hierarchy
	expander, err := push.NewCachingExpander(
		push.NewHierarchyExpander(cfg.Config.Push.ClassHierarchy, cfg.Config.Push.AbstractClasses),
		cfg.Config.Push.SubclassCacheSize,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize subclass expander")
		return
	}

	instanceID := uuid.New()
	deps := push.Deps{
		Revisions:  st,
		Expander:   expander,
		Configs:    st,
		Audit:      st,
		InstanceID: instanceID,
	}
	settings := push.Settings{
		MaxTryAttempts:          cfg.Config.Push.MaxTryAttempts,
		MaxAttemptPeriodMinutes: cfg.Config.Push.MaxAttemptPeriodMinutes,
		ReadTimeout:             time.Duration(cfg.Config.Push.ReadTimeoutMS) * time.Millisecond,
	}

	hub := notify.NewFlushHub()
	manager := push.NewManager(scheduler, executor, hub, deps, settings)
	defer manager.Stop()

	// Admin API and metrics endpoint
	var adminServer *http.Server
	if cfg.Config.Admin.Enabled {
		mux := http.NewServeMux()
		admin.RegisterRoutes(mux, admin.NewHandlers(manager, st, hub))
		if cfg.Config.Telemetry.Enabled {
			mux.Handle("/metrics", telemetry.GetMetricsHandler())
		}

		adminServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
			Handler: mux,
		}
		go func() {
			log.Info().Str("addr", adminServer.Addr).Msg("Admin API listening")
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("Admin API failed")
			}
		}()
	}

	// Revive persisted subscriptions and hook flush delivery
	if err := manager.Bootstrap(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to bootstrap push notification service")
		return
	}

	log.Info().
		Uint64("node_id", cfg.Config.NodeID).
		Str("instance_id", instanceID.String()).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Pushrelay is operational")

	// Wait for shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if adminServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := adminServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin API shutdown failed")
		}
		cancel()
	}
}
