package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/acousticlink/internal/config"
	"github.com/himanishpuri/acousticlink/pkg/acousticlink"
	"github.com/himanishpuri/acousticlink/pkg/logger"
)

// Global flags
var (
	configPath string
	serviceURL string
	dbPath     string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (default: ./acousticlink.yaml if present)")
	flag.StringVar(&serviceURL, "service", "", "Recognition service websocket URL (overrides service.url)")
	flag.StringVar(&dbPath, "db", "", "Path to the history database (overrides storage.db_path)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "service":
			cfg.Service.URL = serviceURL
		case "db":
			cfg.Storage.DBPath = dbPath
		}
	})
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	return cfg
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg := loadConfig()
	logger.GetLogger().Debugf("Executing command: %s", args[0])

	switch args[0] {
	case "listen":
		handleListen(cfg, args[1:])
	case "url":
		handleURL(cfg, args[1:])
	case "history":
		handleHistory(cfg, args[1:])
	case "delete":
		handleDelete(cfg, args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// createClient connects to the service. Notifications are printed as they arrive.
func createClient(ctx context.Context, cfg *config.Config, opts ...acousticlink.Option) (acousticlink.Client, error) {
	base := []acousticlink.Option{
		acousticlink.WithServiceURL(cfg.Service.URL),
		acousticlink.WithDBPath(cfg.Storage.DBPath),
		acousticlink.WithTempDir(cfg.Capture.TempDir),
		acousticlink.WithCaptureDuration(cfg.Capture.Duration),
		acousticlink.WithSampleRate(cfg.Capture.SampleRate),
		acousticlink.WithInputFormat(cfg.Capture.InputFormat),
		acousticlink.WithResponseTimeout(cfg.Pipeline.ResponseTimeout),
		acousticlink.WithResetDelay(cfg.Pipeline.ResetDelay),
		acousticlink.WithNotifier(printNotification),
	}
	return acousticlink.NewClient(ctx, append(base, opts...)...)
}

func printNotification(n acousticlink.Notification) {
	switch n.Level {
	case acousticlink.LevelError:
		fmt.Printf("❌ %s\n", n.Message)
	case acousticlink.LevelSuccess:
		fmt.Printf("✅ %s\n", n.Message)
	default:
		fmt.Printf("ℹ️  %s\n", n.Message)
	}
}

// printProgress reports each state the pipeline moves through.
func printProgress() acousticlink.Option {
	var last acousticlink.State
	return acousticlink.WithObserver(func(s acousticlink.Snapshot) {
		if s.State == last {
			return
		}
		last = s.State
		switch s.State {
		case acousticlink.StateCapturing:
			fmt.Println("🎙️  Listening...")
		case acousticlink.StateEncoding:
			fmt.Println("🔧 Encoding recording...")
		case acousticlink.StateAwaitingMatch:
			fmt.Println("🔍 Waiting for matches...")
		case acousticlink.StateCacheCheck:
			fmt.Println("🔍 Checking the service cache...")
		case acousticlink.StateDownloading:
			fmt.Println("📥 Downloading track...")
		case acousticlink.StateConverting:
			fmt.Println("🔧 Converting audio...")
		case acousticlink.StateFingerprinting:
			fmt.Println("🧬 Fingerprinting and searching...")
		}
	})
}

// waitTerminal blocks until the request completes or fails.
func waitTerminal(ctx context.Context, client acousticlink.Client) (acousticlink.Snapshot, error) {
	return client.WaitFor(ctx, func(s acousticlink.Snapshot) bool {
		return s.State.Terminal()
	})
}

func handleListen(cfg *config.Config, args []string) {
	listenCmd := flag.NewFlagSet("listen", flag.ExitOnError)
	source := listenCmd.String("source", cfg.Capture.Source, "Capture source: mic or device")
	duration := listenCmd.Duration("duration", cfg.Capture.Duration, "Recording length")
	listenCmd.Parse(args)

	src, err := acousticlink.ParseSource(*source)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	cfg.Capture.Duration = *duration

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := createClient(ctx, cfg, printProgress())
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Listen(ctx, src); err != nil {
		fmt.Printf("❌ Failed to start listening: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("   Recording %s from %s (Ctrl-C to stop)\n", cfg.Capture.Duration, src)

	snap, err := waitTerminal(ctx, client)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			client.StopListening(stopCtx)
			fmt.Println("\n⏹️  Stopped")
			return
		}
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	printResult(snap)
}

func handleURL(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: acousticlink url <spotify-url>")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := createClient(ctx, cfg, printProgress())
	if err != nil {
		fmt.Printf("❌ Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.IdentifyURL(ctx, args[0]); err != nil {
		// invalid references are already reported through the notifier
		if !errors.Is(err, acousticlink.ErrInvalidInput) {
			fmt.Printf("❌ Failed to submit: %v\n", err)
		}
		os.Exit(1)
	}

	snap, err := waitTerminal(ctx, client)
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
		os.Exit(1)
	}
	printResult(snap)
}

func printResult(snap acousticlink.Snapshot) {
	if snap.State == acousticlink.StateError {
		os.Exit(1)
	}
	if snap.NoMatch {
		fmt.Println("\n❌ No matches found")
		return
	}

	if len(snap.Matches) > 0 {
		fmt.Printf("\n✅ Found %d match(es)!\n\n", len(snap.Matches))
		for i, m := range snap.Matches {
			fmt.Printf("%d. \"%s\" by %s\n", i+1, m.Title, m.Artist)
			fmt.Printf("   Score: %.2f", m.Score)
			if m.TimestampMs > 0 {
				fmt.Printf(" | Offset: %s", (time.Duration(m.TimestampMs) * time.Millisecond).String())
			}
			fmt.Println()
			if m.ExternalID != "" {
				fmt.Printf("   YouTube: https://youtube.com/watch?v=%s\n", m.ExternalID)
			}
		}
	}

	if p := snap.Provenance; p != nil {
		fmt.Println("\n🔏 Provenance:")
		fmt.Printf("   Hash:  %s\n", p.ContentHash)
		if p.Owner != "" {
			fmt.Printf("   Owner: %s\n", p.Owner)
		}
		if p.Timestamp != "" {
			fmt.Printf("   Time:  %s\n", p.Timestamp)
		}
	}
}

func handleHistory(cfg *config.Config, args []string) {
	historyCmd := flag.NewFlagSet("history", flag.ExitOnError)
	limit := historyCmd.Int("limit", 20, "Maximum entries to show (0 for all)")
	historyCmd.Parse(args)

	store, err := acousticlink.NewSQLiteHistory(cfg.Storage.DBPath)
	if err != nil {
		fmt.Printf("❌ Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.List(*limit)
	if err != nil {
		fmt.Printf("❌ Failed to list history: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("\n📭 No recognitions yet")
		return
	}

	fmt.Printf("\n📚 %d recognition(s):\n\n", len(entries))
	for i, e := range entries {
		label := e.Reference
		if label == "" {
			label = "live " + e.Path
		}
		fmt.Printf("%d. %s [%s] %s\n", i+1, label, e.Outcome, humanize.Time(e.CreatedAt))
		if len(e.Matches) > 0 {
			fmt.Printf("   Top: \"%s\" by %s\n", e.Matches[0].Title, e.Matches[0].Artist)
		}
		if e.Error != "" {
			fmt.Printf("   Error: %s\n", e.Error)
		}
		fmt.Printf("   ID: %s | took %s\n", e.ID, e.Duration.Round(time.Millisecond))
	}
}

func handleDelete(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: acousticlink delete <history-id>")
		os.Exit(1)
	}

	store, err := acousticlink.NewSQLiteHistory(cfg.Storage.DBPath)
	if err != nil {
		fmt.Printf("❌ Failed to open history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		if errors.Is(err, acousticlink.ErrNotFound) {
			fmt.Printf("❌ No history entry %s\n", args[0])
		} else {
			fmt.Printf("❌ Failed to delete: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("✅ Deleted %s\n", args[0])
}

func printUsage() {
	fmt.Println("acousticlink - identify music by listening or by track URL")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  -config <path>     YAML config file (default: ./acousticlink.yaml)")
	fmt.Println("  -service <url>     Recognition service websocket URL (env: ACOUSTIC_SERVICE_URL)")
	fmt.Println("  -db <path>         History database (env: ACOUSTIC_DB_PATH)")
	fmt.Println("\nUsage:")
	fmt.Println("  acousticlink [global-options] listen [-source mic|device] [-duration 20s]")
	fmt.Println("  acousticlink [global-options] url <spotify-url>")
	fmt.Println("  acousticlink [global-options] history [-limit n]")
	fmt.Println("  acousticlink [global-options] delete <history-id>")
	fmt.Println("\nExamples:")
	fmt.Println("  acousticlink listen -source device -duration 10s")
	fmt.Println("  acousticlink url https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC")
}
