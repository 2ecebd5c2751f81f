package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/feed"
	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/storage"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// --------------------------------------------------------------------------
// import / export
// --------------------------------------------------------------------------

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import canonical JSON exports (use - for stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(ctx context.Context, a *app) error {
				for _, path := range args {
					if err := importFile(ctx, a, path, cmd.InOrStdin()); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func importFile(ctx context.Context, a *app, path string, stdin io.Reader) error {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	events, rejected, err := feed.ParseExport(r)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, rej := range rejected {
		fmt.Fprintf(a.out, "  skipped %v\n", rej)
	}

	result, err := a.eng.Ingest(ctx, events)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	for _, ie := range result.Errors {
		fmt.Fprintf(a.out, "  rejected %v\n", ie)
	}

	if jsonOutput {
		return printJSON(a.out, result)
	}
	fmt.Fprintf(a.out, "%s: %s records, %s added, %s duplicates, %d rejected, %d predictions resolved\n",
		path, humanize.Comma(int64(len(events)+len(rejected))), humanize.Comma(int64(result.Added)),
		humanize.Comma(int64(result.Duplicates)), result.Rejected+len(rejected), len(result.Resolved))
	return nil
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the stored history as a canonical JSON export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				if len(args) == 0 {
					return feed.WriteExport(a.out, a.eng.Events())
				}
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create %s: %w", args[0], err)
				}
				if err := feed.WriteExport(f, a.eng.Events()); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
}

// --------------------------------------------------------------------------
// read-only views
// --------------------------------------------------------------------------

func summaryCmd() *cobra.Command {
	var items int
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show history totals, accuracy and the most restocked items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				s := a.eng.GetSummaryStats()
				if jsonOutput {
					return printJSON(a.out, s)
				}

				fmt.Fprintf(a.out, "Events:        %s (%s to %s)\n", humanize.Comma(int64(s.TotalEvents)), a.timeIn(s.FirstEvent), a.timeIn(s.LastEvent))
				fmt.Fprintf(a.out, "Items:         %d (%d watched)\n", s.UniqueItems, s.WatchedItems)
				fmt.Fprintf(a.out, "Avg spacing:   %.1fh\n", s.AvgEventSpacingHours)
				fmt.Fprintf(a.out, "Accuracy:      %d resolved, %d active, MAE %.0f min, bias %+.0f min\n\n",
					s.Accuracy.Resolved, s.Accuracy.Active, s.Accuracy.MeanAbsErrorMinutes, s.Accuracy.MeanSignedErrMinutes)

				tw := newTable(a.out)
				fmt.Fprintln(tw, "ITEM\tCATEGORY\tRESTOCKS\tRATE\tRARITY\tLAST SEEN")
				for i, st := range s.Items {
					if i >= items {
						break
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f%%\t%s\t%s\n",
						st.Name, st.Category, st.TotalRestocks, st.AppearanceRate*100, st.Rarity, humanize.Time(st.LastSeen))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&items, "items", 20, "Number of items to list")
	return cmd
}

func topCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank items by their chance of restocking within 24h",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				top := a.eng.GetTopLikelyItems(limit)
				if jsonOutput {
					return printJSON(a.out, top)
				}
				tw := newTable(a.out)
				fmt.Fprintln(tw, "#\tITEM\tP(24H)\tCONFIDENCE\tNEXT (CONSERVATIVE)")
				for i, it := range top {
					next := "-"
					if it.Prediction != nil {
						next = fmt.Sprintf("%s (%s)", a.timeIn(it.Prediction.PredictedTime), humanize.Time(it.Prediction.PredictedTime))
					}
					fmt.Fprintf(tw, "%d\t%s\t%.0f%%\t%s\t%s\n", i+1, it.Stats.Name, it.ProbWithin24h*100, it.Confidence, next)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultTopLimit, "Number of items")
	return cmd
}

func detailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail <item>",
		Short: "Describe an item's restock interval distribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				d, err := a.eng.GetDetailedPredictionStats(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(a.out, d)
				}
				tw := newTable(a.out)
				fmt.Fprintf(tw, "Item\t%s\n", d.ItemName)
				fmt.Fprintf(tw, "Intervals\t%d\n", d.SampleSize)
				fmt.Fprintf(tw, "Median / mean\t%.1fh / %.1fh (σ %.1fh, CV %.2f)\n", d.MedianHours, d.MeanHours, d.StdDevHours, d.CoefficientOfVar)
				fmt.Fprintf(tw, "P25 / P75 / P95\t%.1fh / %.1fh / %.1fh\n", d.P25Hours, d.P75Hours, d.P95Hours)
				fmt.Fprintf(tw, "Within 6h / 24h / 7d\t%.0f%% / %.0f%% / %.0f%%\n", d.ProbWithin6h*100, d.ProbWithin24h*100, d.ProbWithin7d*100)
				fmt.Fprintf(tw, "Variability\t%s\n", orDash(string(d.Variability)))
				fmt.Fprintf(tw, "Confidence\t%s\n", d.Confidence)
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "\n%s\n", d.RecommendedApproach)
				return nil
			})
		},
	}
}

func predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <item>",
		Short: "Show point predictions and upcoming windows for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				dual, err := a.eng.GetDualPrediction(args[0])
				if err != nil {
					return err
				}
				windows, err := a.eng.GetItemWindows(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(a.out, map[string]any{"dual": dual, "windows": windows})
				}

				tw := newTable(a.out)
				fmt.Fprintln(tw, "STRATEGY\tPREDICTED\tCONFIDENCE\tSAMPLES\tOVERDUE")
				for _, p := range []*models.PointPrediction{dual.Optimistic, dual.Conservative} {
					if p == nil {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s (%s)\t%s\t%d\t%v\n",
						p.Strategy, a.timeIn(p.PredictedTime), humanize.Time(p.PredictedTime), p.Confidence, p.BasedOnSamples, p.Overdue)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if dual.Optimistic == nil && dual.Conservative == nil {
					fmt.Fprintln(a.out, "Not enough history for point predictions.")
				}
				fmt.Fprintln(a.out)
				return a.printWindows(windows)
			})
		},
	}
}

func (a *app) printWindows(w models.WindowBasedPrediction) error {
	fmt.Fprintf(a.out, "%s: last seen %s", w.ItemName, a.timeIn(w.LastSeenTime))
	switch {
	case w.CooldownActive:
		fmt.Fprintf(a.out, ", cooldown for another %.1fh\n", w.CooldownRemainingHours)
	case w.TooEarly:
		fmt.Fprintf(a.out, ", too early for another %.1fh\n", w.PracticalRemainingHours)
	default:
		fmt.Fprintln(a.out)
	}
	for _, sig := range w.CorrelationSignals {
		fmt.Fprintf(a.out, "  %s seen %s (%.0f%% follow-through until %s)\n",
			sig.TriggerItem, humanize.Time(sig.DetectedAt), sig.Probability*100, a.timeIn(sig.WindowEnd))
	}

	tw := newTable(a.out)
	fmt.Fprintln(tw, "  START\tEND\tCONFIDENCE\tSIGNALS\tREASON")
	for _, win := range w.NextWindows {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			a.timeIn(win.StartTime), win.EndTime.In(a.cfg.TimeLocation()).Format("15:04"), win.Confidence,
			orDash(strings.Join(win.Signals, ",")), win.Reason)
	}
	return tw.Flush()
}

func windowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "Show upcoming windows for watched items (or all items)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				preds := a.eng.GetWindowPredictions()
				if jsonOutput {
					return printJSON(a.out, preds)
				}
				names := make([]string, 0, len(preds))
				for name := range preds {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					if err := a.printWindows(preds[name]); err != nil {
						return err
					}
					fmt.Fprintln(a.out)
				}
				return nil
			})
		},
	}
}

func alertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Show windows that are open now or open within the lookahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				alerts := a.eng.GetCurrentMonitoringAlerts()
				if jsonOutput {
					return printJSON(a.out, alerts)
				}
				if len(alerts) == 0 {
					fmt.Fprintln(a.out, "No restock windows open or opening soon.")
					return nil
				}
				tw := newTable(a.out)
				fmt.Fprintln(tw, "URGENCY\tITEM\tWINDOW\tCONFIDENCE\tMESSAGE")
				for _, al := range alerts {
					fmt.Fprintf(tw, "%s\t%s\t%s-%s\t%s\t%s\n", al.Urgency, al.ItemName,
						a.timeIn(al.WindowStart), al.WindowEnd.In(a.cfg.TimeLocation()).Format("15:04"), al.Confidence, al.Message)
				}
				return tw.Flush()
			})
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <item>",
		Short: "Show resolved predictions for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				history := a.eng.PredictionHistory(args[0])
				active, hasActive := a.eng.ActivePrediction(args[0])
				if jsonOutput {
					out := map[string]any{"history": history}
					if hasActive {
						out["active"] = active
					}
					return printJSON(a.out, out)
				}
				if hasActive {
					fmt.Fprintf(a.out, "Waiting: predicted %s (made %s)\n\n", a.timeIn(active.PredictedTime), humanize.Time(active.MadeAt))
				}
				if len(history) == 0 {
					fmt.Fprintln(a.out, "No resolved predictions yet.")
					return nil
				}
				tw := newTable(a.out)
				fmt.Fprintln(tw, "PREDICTED\tACTUAL\tERROR")
				for _, rec := range history {
					fmt.Fprintf(tw, "%s\t%s\t%+.0f min\n", a.timeIn(rec.PredictedTime), a.timeIn(rec.ActualTime), rec.DifferenceMinutes)
				}
				return tw.Flush()
			})
		},
	}
}

// --------------------------------------------------------------------------
// watchlist
// --------------------------------------------------------------------------

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watchlist that scopes windows and alerts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <item>",
		Short: "Watch an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(ctx context.Context, a *app) error {
				if err := a.eng.AddWatchedItem(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Watching %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <item>",
		Short: "Stop watching an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(ctx context.Context, a *app) error {
				removed, err := a.eng.RemoveWatchedItem(ctx, args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s is not on the watchlist", args[0])
				}
				fmt.Fprintf(a.out, "Stopped watching %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List watched items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				items := a.eng.GetWatchedItems()
				if jsonOutput {
					return printJSON(a.out, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(a.out, "Watchlist is empty; windows and alerts cover every item.")
					return nil
				}
				for _, name := range items {
					fmt.Fprintln(a.out, name)
				}
				return nil
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// maintenance
// --------------------------------------------------------------------------

func clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all events, predictions and the watchlist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all restock data without --yes")
			}
			return runWithEngine(cmd, func(ctx context.Context, a *app) error {
				n := len(a.eng.Events())
				if err := a.eng.ClearAllRestocks(ctx); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted %s events\n", humanize.Comma(int64(n)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func backtestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backtest",
		Short: "Replay the stored history and score every prediction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEngine(cmd, func(_ context.Context, a *app) error {
				start := time.Now()
				report := engine.Backtest(a.eng.Events(), engine.OptionsFromConfig(a.cfg))
				if jsonOutput {
					return printJSON(a.out, report)
				}
				fmt.Fprintf(a.out, "Replayed %s events in %v: %d predictions resolved, MAE %.0f min, bias %+.0f min\n\n",
					humanize.Comma(int64(report.Events)), time.Since(start).Round(time.Millisecond),
					report.Resolved, report.MeanAbsErrorMinutes, report.MeanSignedErrMinutes)
				tw := newTable(a.out)
				fmt.Fprintln(tw, "ITEM\tRESOLVED\tMAE (MIN)\tBIAS (MIN)")
				for _, it := range report.Items {
					fmt.Fprintf(tw, "%s\t%d\t%.0f\t%+.0f\n", it.Name, it.Resolved, it.MeanAbsErrorMinutes, it.MeanSignedErrMinutes)
				}
				return tw.Flush()
			})
		},
	}
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the storage backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := storage.Info()
			names := make([]string, 0, len(info))
			for b := range info {
				names = append(names, string(b))
			}
			sort.Strings(names)
			tw := newTable(cmd.OutOrStdout())
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\n", name, info[storage.Backend(name)])
			}
			return tw.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
