// Package app wires configuration, logging, storage, the registry, and
// the transport layer into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	server "blockwell/server"
	"blockwell/server/internal/challenge"
	appnet "blockwell/server/internal/net"
	"blockwell/server/internal/storage"
	"blockwell/server/logging"
	"blockwell/server/logging/sinks"
)

// Config is populated from the environment. Defaults suit local runs.
type Config struct {
	Addr        string   `env:"ADDR" envDefault:":8080"`
	DataDir     string   `env:"DATA_DIR" envDefault:"data"`
	LogSinks    []string `env:"LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath string   `env:"LOG_JSON_PATH" envDefault:"data/events.jsonl"`
	LogColor    bool     `env:"LOG_COLOR" envDefault:"true"`

	// TiersPath points at an optional operator-supplied tier table.
	TiersPath string `env:"TIERS_PATH"`

	StaticDir string `env:"STATIC_DIR" envDefault:"web"`

	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Run builds the server from cfg and blocks until SIGINT or SIGTERM, then
// shuts down: stop background loops, flush state, drain the event router.
func Run(cfg Config) error {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	router, jsonFile, err := buildEventRouter(cfg)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	challenger := challenge.New(nil, nil)

	var tiers []server.Tier
	if cfg.TiersPath != "" {
		tiers, err = server.LoadTiers(cfg.TiersPath)
		if err != nil {
			return err
		}
	}

	registry := server.NewRegistry(server.RegistryConfig{
		Store:      store,
		Challenger: challenger,
		Tiers:      tiers,
		Publisher:  router,
		Logger:     logger,
	})
	hub := server.NewHub(registry)
	handler := appnet.NewHandler(registry, hub, challenger, logger)
	handler.SetStaticDir(cfg.StaticDir)

	stop := make(chan struct{})
	go registry.Run(stop)
	go hub.RunDurationTicker(stop)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(stop)
		return err
	case sig := <-signals:
		logger.Printf("received %s, shutting down", sig)
	}

	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if err := registry.Flush(); err != nil {
		logger.Printf("final save failed: %v", err)
	}
	if err := router.Close(ctx); err != nil {
		logger.Printf("event router close: %v", err)
	}
	if jsonFile != nil {
		jsonFile.Close()
	}
	return nil
}

// buildEventRouter assembles the structured event pipeline from the sink
// list. The returned file, if any, outlives the router and is closed last.
func buildEventRouter(cfg Config) (*logging.Router, *os.File, error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	logCfg.Console.UseColor = cfg.LogColor
	logCfg.JSON.FilePath = cfg.LogJSONPath

	var named []logging.NamedSink
	var jsonFile *os.File
	if logCfg.HasSink("console") {
		named = append(named, logging.NamedSink{
			Name: "console",
			Sink: sinks.NewConsoleSink(os.Stdout, logCfg.Console),
		})
	}
	if logCfg.HasSink("json") {
		// The event log may live under the data dir before storage.New
		// has created it.
		if err := os.MkdirAll(filepath.Dir(logCfg.JSON.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create event log directory: %w", err)
		}
		f, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open event log %s: %w", logCfg.JSON.FilePath, err)
		}
		jsonFile = f
		named = append(named, logging.NamedSink{
			Name: "json",
			Sink: sinks.NewJSONSink(f, logCfg.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		if jsonFile != nil {
			jsonFile.Close()
		}
		return nil, nil, err
	}
	return router, jsonFile, nil
}
