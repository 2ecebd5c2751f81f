// Command restockctl inspects and maintains a restock history offline.
//
// Usage:
//
//	restockctl import export.json
//	restockctl top --limit 5
//	restockctl predict "Elder Strawberry"
//	restockctl watch add Carrot
//	restockctl backtest
//	restockctl clear --yes
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/restockoracle/internal/config"
	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/storage"
)

// Persistent flags.
var (
	configPath string
	jsonOutput bool
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree and binds the persistent flags.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "restockctl",
		Short:         "Restock history, prediction and alert CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file (empty uses defaults and environment)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of tables")

	root.AddCommand(importCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(summaryCmd())
	root.AddCommand(topCmd())
	root.AddCommand(detailCmd())
	root.AddCommand(predictCmd())
	root.AddCommand(windowsCmd())
	root.AddCommand(alertsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(clearCmd())
	root.AddCommand(backtestCmd())
	root.AddCommand(backendsCmd())
	return root
}

// app bundles what a command needs.
type app struct {
	cfg *config.Config
	eng *engine.Engine
	out io.Writer
}

// runWithEngine loads configuration, opens storage and restores the engine
// before calling fn. Storage is closed afterwards.
func runWithEngine(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Init(cfg.Logging.Level, "text")

	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	eng := engine.New(kv, engine.OptionsFromConfig(cfg))
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	return fn(ctx, &app{cfg: cfg, eng: eng, out: cmd.OutOrStdout()})
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// timeIn formats t in the configured zone.
func (a *app) timeIn(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(a.cfg.TimeLocation()).Format("2006-01-02 15:04 MST")
}
