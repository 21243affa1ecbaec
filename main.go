package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"

	"picamstream/camera"
	"picamstream/catalog"
	"picamstream/pipeline"
)

const usage = `usage: picamstream [flags] [serve|digest|selftest]

  serve     capture, store and stream (default)
  digest    index existing captures into the catalog
  selftest  check storage and capture one test frame

flags:
`

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file, .json or .yaml (default: XDG config directory)")
		envPath    = flag.String("env", "", "Path to credentials env file (default: from config)")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := NewLogger(*verbose)

	// Use XDG config directory if not specified
	if *configPath == "" {
		var err error
		*configPath, err = xdg.ConfigFile("picamstream/config.json")
		if err != nil {
			*configPath = filepath.Join(os.ExpandEnv("$HOME"), ".config/picamstream/config.json")
		}
	}

	config, err := LoadOrCreateConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *envPath != "" {
		config.CredentialsFile = *envPath
	}

	cmd := flag.Arg(0)
	switch cmd {
	case "", "serve":
		err = serve(config, *configPath, logger)
	case "digest":
		err = digest(config, logger)
	case "selftest":
		err = runSelftest(config, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatalf("%v", err)
	}
}

func catalogDir(config *Config) string {
	if config.CatalogDir != "" {
		return config.CatalogDir
	}
	return filepath.Join(filepath.Dir(config.SaveDir), "catalog")
}

func digest(config *Config, logger *Logger) error {
	journal, err := catalog.NewJournal(catalogDir(config), logger)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	res, err := journal.Digest(config.SaveDir)
	if err != nil {
		return fmt.Errorf("digest failed: %w", err)
	}
	logger.Printf("Digest of %s complete: scanned %d, indexed %d, already known %d, skipped %d across %d day(s)",
		config.SaveDir, res.Scanned, res.Indexed, res.Known, res.Skipped, res.Days)
	return nil
}

func serve(config *Config, configPath string, logger *Logger) error {
	creds, err := LoadCredentials(config.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if err := checkTLSFiles(config.TLSCertFile, config.TLSKeyFile); err != nil {
		return err
	}

	logger.Printf("Starting picamstream...")
	logger.Printf("Listening on port %d", config.Port)
	logger.Printf("Save directory: %s", config.SaveDir)
	logger.Printf("Storage cap: %dGB", config.StorageCapGB)

	sm, err := NewStorageManager(config.SaveDir, config.StorageCapGB, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	defer sm.Stop()

	journal, err := catalog.NewJournal(catalogDir(config), logger)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	observers := []pipeline.SaveObserver{journal}

	if config.MQTT.Broker != "" {
		notifier, err := NewMQTTNotifier(config.MQTT, logger)
		if err != nil {
			// Save events are optional, streaming is not
			logger.Warnf("MQTT notifications disabled: %v", err)
		} else {
			defer notifier.Close()
			observers = append(observers, notifier)
		}
	}

	camCfg := config.CameraConfig()
	src, err := camera.NewSource(camCfg, logger)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrCameraInit, err)
	}

	pipe, err := pipeline.New(config.PipelineOptions(), src, camera.NewJPEGEncoder(camCfg), sm, logger, observers...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipe.Start(ctx); err != nil {
		return err
	}

	server := NewAPIServer(config, configPath, pipe, sm, journal, creds, logger)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start()
	}()

	var serveErr error
	select {
	case err := <-serverDone:
		if err != nil {
			serveErr = fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
		logger.Printf("Received shutdown signal")
	}

	// Ending the pipeline first releases every streaming handler
	logger.Printf("Shutting down...")
	pipe.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ServerShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warnf("Server shutdown: %v", err)
	}

	return serveErr
}
