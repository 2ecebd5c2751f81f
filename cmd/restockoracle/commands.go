package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/telegram"
)

const botTopLimit = 5

// botCommands wires chat commands to the engine.
func botCommands(eng *engine.Engine) map[string]telegram.CommandFunc {
	return map[string]telegram.CommandFunc{
		"alerts": func(context.Context, string) (string, error) {
			alerts := eng.GetCurrentMonitoringAlerts()
			if len(alerts) == 0 {
				return "No restock windows open or opening soon.", nil
			}
			var b strings.Builder
			for _, a := range alerts {
				fmt.Fprintf(&b, "[%s] %s\n", a.Urgency, a.Message)
			}
			return b.String(), nil
		},

		"top": func(context.Context, string) (string, error) {
			items := eng.GetTopLikelyItems(botTopLimit)
			if len(items) == 0 {
				return "Not enough history to rank items yet.", nil
			}
			var b strings.Builder
			for i, it := range items {
				fmt.Fprintf(&b, "%d. %s: %.0f%% within 24h", i+1, it.Stats.Name, it.ProbWithin24h*100)
				if it.Prediction != nil {
					fmt.Fprintf(&b, ", next %s", humanize.Time(it.Prediction.PredictedTime))
				}
				b.WriteString("\n")
			}
			return b.String(), nil
		},

		"item": func(_ context.Context, args string) (string, error) {
			if args == "" {
				return "", errors.New("usage: /item <name>")
			}
			stats, err := eng.GetDetailedPredictionStats(args)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s (%d intervals, %s confidence)\n%s",
				stats.ItemName, stats.SampleSize, stats.Confidence, stats.RecommendedApproach), nil
		},

		"watch": func(ctx context.Context, args string) (string, error) {
			if args == "" {
				return "", errors.New("usage: /watch <name>")
			}
			if err := eng.AddWatchedItem(ctx, args); err != nil {
				return "", err
			}
			return "Watching " + args, nil
		},

		"unwatch": func(ctx context.Context, args string) (string, error) {
			if args == "" {
				return "", errors.New("usage: /unwatch <name>")
			}
			removed, err := eng.RemoveWatchedItem(ctx, args)
			if err != nil {
				return "", err
			}
			if !removed {
				return args + " was not on the watchlist", nil
			}
			return "Stopped watching " + args, nil
		},

		"watchlist": func(context.Context, string) (string, error) {
			items := eng.GetWatchedItems()
			if len(items) == 0 {
				return "Watchlist is empty; alerts cover every item.", nil
			}
			return "Watching: " + strings.Join(items, ", "), nil
		},

		"summary": func(context.Context, string) (string, error) {
			s := eng.GetSummaryStats()
			if s.TotalEvents == 0 {
				return "No restocks recorded yet.", nil
			}
			return fmt.Sprintf("%s restocks of %d items, last %s. Prediction error: %.0f min over %d resolved.",
				humanize.Comma(int64(s.TotalEvents)), s.UniqueItems,
				humanize.RelTime(s.LastEvent, time.Now(), "ago", "from now"),
				s.Accuracy.MeanAbsErrorMinutes, s.Accuracy.Resolved), nil
		},
	}
}
