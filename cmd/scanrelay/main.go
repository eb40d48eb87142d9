package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scoutware/scanrelay/internal/api"
	"github.com/scoutware/scanrelay/internal/config"
	"github.com/scoutware/scanrelay/internal/dedup"
	"github.com/scoutware/scanrelay/internal/parser"
	"github.com/scoutware/scanrelay/internal/payload"
	"github.com/scoutware/scanrelay/internal/relay"
	"github.com/scoutware/scanrelay/internal/scan"
	"github.com/scoutware/scanrelay/internal/schema"
	"github.com/scoutware/scanrelay/internal/settings"
	"github.com/scoutware/scanrelay/internal/spool"
	"github.com/scoutware/scanrelay/internal/storage"
	"github.com/scoutware/scanrelay/internal/uplink"
	"github.com/scoutware/scanrelay/internal/websocket"
	"github.com/scoutware/scanrelay/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "scanrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting scanrelay",
		logger.String("storage_driver", cfg.Storage.Driver),
		logger.String("storage_path", cfg.Storage.Path))

	// Durable state.
	backend, err := storage.NewBackend(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	records, err := backend.LoadScans()
	if err != nil {
		return fmt.Errorf("failed to load scan history: %w", err)
	}

	initial := settings.Settings{
		EndpointURL:  cfg.Uplink.EndpointURL,
		ForceCompact: cfg.Uplink.ForceCompact,
	}
	if persisted, found, err := backend.LoadSettings(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	} else if found {
		initial = persisted
	}
	settingsSvc := settings.NewService(initial, backend, log)

	// Record layout and parsing.
	sch := schema.Default()
	if len(cfg.Schema.MetricFields) > 0 {
		if sch, err = schema.New(cfg.Schema.MetricFields); err != nil {
			return fmt.Errorf("invalid schema config: %w", err)
		}
	}
	fieldParser := parser.New(sch, cfg.Schema.ContinuationWords)
	normalizer := payload.NewNormalizer(payload.Codec{}, log)

	// Pipeline.
	store := scan.NewStore(records, backend, log)
	wsServer := websocket.NewServer(cfg.Server.CORSAllowedOrigins, log)
	tracker := relay.NewStatusTracker(store, wsServer, log)
	client := uplink.NewClient(time.Duration(cfg.Uplink.RequestTimeoutSeconds)*time.Second, log)
	dispatcher := uplink.NewDispatcher(sch, client, tracker, settingsSvc, fieldParser, log)
	service := relay.NewService(normalizer, fieldParser, dedup.NewIndex(), store, dispatcher, settingsSvc, wsServer, log)

	log.Info("Loaded scan history", logger.Int("records", store.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional drop-directory intake.
	if cfg.Spool.Enabled {
		watcher := spool.NewWatcher(cfg.Spool, service, log)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start spool intake: %w", err)
		}
		defer watcher.Stop()
	}

	// HTTP API.
	router := api.NewRouter(service, settingsSvc, cfg, log, wsServer)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router.Routes(),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening",
			logger.String("addr", addr),
			logger.Strings("cors_origins", cfg.Server.CORSAllowedOrigins))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}

	// Let in-flight deliveries report their outcome before the store's
	// backend goes away.
	dispatcher.Wait()
	wsServer.Close()

	return nil
}
