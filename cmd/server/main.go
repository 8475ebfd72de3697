package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/himanishpuri/acousticlink/internal/config"
	"github.com/himanishpuri/acousticlink/pkg/acousticlink"
	"github.com/himanishpuri/acousticlink/pkg/logger"
)

var (
	configPath     string
	port           int
	serviceURL     string
	dbPath         string
	allowedOrigins string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (default: ./acousticlink.yaml if present)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides server.port)")
	flag.StringVar(&serviceURL, "service", "", "Recognition service websocket URL (overrides service.url)")
	flag.StringVar(&dbPath, "db", "", "Path to the history database (overrides storage.db_path)")
	flag.StringVar(&allowedOrigins, "origins", "", "Comma-separated list of allowed CORS origins (use * for all)")
}

// applyFlags lets explicitly set flags win over file and env values.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = port
		case "service":
			cfg.Service.URL = serviceURL
		case "db":
			cfg.Storage.DBPath = dbPath
		case "origins":
			cfg.Server.AllowedOrigins = allowedOrigins
		}
	})
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	source, err := acousticlink.ParseSource(cfg.Capture.Source)
	if err != nil {
		log.Fatalf("Invalid capture.source: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(&ServerConfig{
		Port:           cfg.Server.Port,
		ServiceURL:     cfg.Service.URL,
		DBPath:         cfg.Storage.DBPath,
		DefaultSource:  source,
		AllowedOrigins: cfg.Origins(),
	})

	client, err := acousticlink.NewClient(ctx,
		acousticlink.WithServiceURL(cfg.Service.URL),
		acousticlink.WithDBPath(cfg.Storage.DBPath),
		acousticlink.WithTempDir(cfg.Capture.TempDir),
		acousticlink.WithCaptureDuration(cfg.Capture.Duration),
		acousticlink.WithSampleRate(cfg.Capture.SampleRate),
		acousticlink.WithInputFormat(cfg.Capture.InputFormat),
		acousticlink.WithResponseTimeout(cfg.Pipeline.ResponseTimeout),
		acousticlink.WithResetDelay(cfg.Pipeline.ResetDelay),
		acousticlink.WithNotifier(server.Notify),
	)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()
	server.Attach(client)

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
