package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/restockoracle/internal/api"
	"github.com/rewired-gh/restockoracle/internal/config"
	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/feed"
	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/storage"
	"github.com/rewired-gh/restockoracle/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file (empty uses defaults and environment)")

func main() {
	flag.Parse()

	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging with level support
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	// Initialize storage
	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	// Initialize engine and restore state
	eng := engine.New(kv, engine.OptionsFromConfig(cfg))
	if err := eng.Load(ctx); err != nil {
		logger.Fatal("Failed to restore state: %v", err)
	}

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	// Start Telegram command listener
	if telegramClient != nil {
		telegramClient.ListenForCommands(gctx, botCommands(eng))
	}

	if cfg.Feed.Enabled {
		client := feed.NewClient(cfg.Feed.URL, cfg.Feed.Timeout, feed.ClientConfig{
			MaxRetries:     cfg.Feed.MaxRetries,
			RetryDelayBase: cfg.Feed.RetryDelayBase,
		})
		tracker := newCycleTracker("feed", telegramClient)
		logger.Info("Starting feed polling (url: %s, interval: %v)", cfg.Feed.URL, cfg.Feed.PollInterval)
		g.Go(func() error {
			runLoop(gctx, cfg.Feed.PollInterval, func() {
				tracker.handle(runFeedCycle(gctx, client, eng))
			})
			return nil
		})
	}

	if cfg.Monitor.Enabled {
		tracker := newCycleTracker("monitoring", telegramClient)
		logger.Info("Starting monitoring service (interval: %v, lookahead: %v, cooldown: %v)",
			cfg.Monitor.PollInterval, cfg.Monitor.Lookahead, cfg.Monitor.AlertCooldown)
		g.Go(func() error {
			runLoop(gctx, cfg.Monitor.PollInterval, func() {
				tracker.handle(runMonitoringCycle(eng, telegramClient, cfg.Monitor.AlertCooldown))
			})
			return nil
		})
	}

	if cfg.API.Enabled {
		router := api.NewRouter(eng, cfg.API, cfg.Storage.Backend)
		g.Go(func() error {
			return api.Serve(gctx, cfg.Addr(), router)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error: %v", err)
		return
	}
	logger.Info("Service stopped")
}

// runLoop runs cycle immediately and then on every tick until ctx is done.
func runLoop(ctx context.Context, interval time.Duration, cycle func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}

// cycleTracker counts consecutive failures of one loop and notifies on the
// first failure and on recovery.
type cycleTracker struct {
	name                string
	telegram            *telegram.Client
	consecutiveFailures int
}

func newCycleTracker(name string, tg *telegram.Client) *cycleTracker {
	return &cycleTracker{name: name, telegram: tg}
}

func (t *cycleTracker) handle(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		t.consecutiveFailures++
		logger.Error("%s cycle failed: %v", t.name, err)
		if t.consecutiveFailures == 1 && t.telegram != nil {
			if sendErr := t.telegram.SendError(fmt.Errorf("%s: %w", t.name, err)); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return
	}
	if t.consecutiveFailures > 0 && t.telegram != nil {
		if sendErr := t.telegram.SendRecovery(t.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	t.consecutiveFailures = 0
}

func runFeedCycle(ctx context.Context, client *feed.Client, eng *engine.Engine) error {
	startTime := time.Now()

	events, rejected, err := client.FetchEvents(ctx)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		logger.Warn("Feed record rejected: %v", r)
	}

	result, err := eng.Ingest(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to ingest feed events: %w", err)
	}
	for _, ingestErr := range result.Errors {
		logger.Warn("Feed event rejected: %v", ingestErr)
	}

	logger.Info("Feed cycle completed in %v: %d fetched, %d new, %d duplicates, %d predictions resolved",
		time.Since(startTime), len(events), result.Added, result.Duplicates, len(result.Resolved))
	return nil
}

func runMonitoringCycle(eng *engine.Engine, telegramClient *telegram.Client, cooldown time.Duration) error {
	startTime := time.Now()

	alerts := eng.PendingAlerts(cooldown)
	if len(alerts) == 0 {
		logger.Info("No new restock windows this cycle")
		return nil
	}

	if telegramClient == nil {
		for _, a := range alerts {
			logger.Info("[%s] %s", a.Urgency, a.Message)
		}
		eng.MarkNotified(alerts)
		return nil
	}

	logger.Debug("Sending %d alerts to Telegram", len(alerts))
	if err := telegramClient.Send(alerts); err != nil {
		return fmt.Errorf("failed to send Telegram notification: %w", err)
	}
	eng.MarkNotified(alerts)
	logger.Info("Sent Telegram notification with %d alerts in %v", len(alerts), time.Since(startTime))
	return nil
}
