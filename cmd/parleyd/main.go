// Parleyd - UDP chat server
//
// Parleyd admits users on a rendezvous port, hands each one a dedicated
// UDP session endpoint, and routes broadcasts, private messages, and
// room traffic between them. Around the chat core it runs a read-only
// admin HTTP API, an optional MQTT telemetry publisher, and a SQLite
// audit log of lifecycle events.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parley-project/parley/internal/api"
	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/db"
	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/server"
	"github.com/parley-project/parley/internal/telemetry"
	"github.com/parley-project/parley/internal/util"
)

const (
	AppName    = "Parley"
	AppVersion = "1.0.0"
	Banner     = `
  ____            _
 |  _ \ __ _ _ __| | ___ _   _
 | |_) / _' | '__| |/ _ \ | | |
 |  __/ (_| | |  | |  __/ |_| |
 |_|   \__,_|_|  |_|\___|\__, |
                         |___/  v%s
 UDP Chat Server
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config file is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting parleyd")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appCfg := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appCfg.Logging.Level,
		Directory:  appCfg.Logging.Directory,
		MaxBackups: appCfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	core := server.NewCore(cfg, eventBus)

	// Bind before launching anything that reports the address.
	if err := core.Listen(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to bind rendezvous port")
	}

	var auditStore *db.AuditStore
	if appCfg.Audit.Enabled {
		auditStore, err = db.NewAuditStore(appCfg.Audit.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open audit log, auditing disabled")
		} else {
			auditStore.Attach(eventBus)
		}
	}

	apiServer := api.NewServer(cfg, core, auditStore)

	var mqttHandler *telemetry.MQTTHandler
	if appCfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, core)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: the chat core itself. A failure here is fatal.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", core.Addr().Port).Msg("starting chat core")
		if err := core.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("chat core: %w", err)
		}
	}()

	// Task 2: admin API (with retry for port binding)
	if appCfg.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appCfg.API.Port).Msg("starting admin API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
		}()
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Stop the event bus, then close the stores it was feeding.
	eventBus.Stop()
	if auditStore != nil {
		auditStore.Close()
	}

	log.Info().Msg("parleyd stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors. Uses a fixed 3-second interval between retries, long enough
// for the OS to release sockets after a process is force-killed.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
