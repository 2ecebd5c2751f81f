package engine

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/restockoracle/internal/models"
)

// ItemAccuracy is the backtest error for one item.
type ItemAccuracy struct {
	Name                 string  `json:"name"`
	Resolved             int     `json:"resolved"`
	MeanAbsErrorMinutes  float64 `json:"mean_abs_error_minutes"`
	MeanSignedErrMinutes float64 `json:"mean_signed_error_minutes"`
}

// BacktestReport summarizes a chronological replay.
type BacktestReport struct {
	Events               int            `json:"events"`
	Rejected             int            `json:"rejected"`
	Resolved             int            `json:"resolved"`
	MeanAbsErrorMinutes  float64        `json:"mean_abs_error_minutes"`
	MeanSignedErrMinutes float64        `json:"mean_signed_error_minutes"`
	Items                []ItemAccuracy `json:"items"` // most resolved first
}

// Backtest replays events one at a time through a fresh, unpersisted engine
// whose clock follows the replay, so every prediction is made with only the
// history before it. Every resolved prediction is scored, not just the
// bounded per-item history.
func Backtest(events []models.RestockEvent, opts Options) BacktestReport {
	ordered := append([]models.RestockEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	opts.RecordPredictions = true
	eng := New(nil, opts)

	var current time.Time
	eng.SetClock(func() time.Time { return current })

	report := BacktestReport{Events: len(ordered)}
	var records []models.PredictionRecord
	for _, ev := range ordered {
		current = ev.Timestamp
		eng.mu.Lock()
		res := eng.ingestLocked([]models.RestockEvent{ev})
		eng.mu.Unlock()
		report.Rejected += res.Rejected
		records = append(records, res.Resolved...)
	}

	report.Resolved = len(records)
	report.MeanAbsErrorMinutes, report.MeanSignedErrMinutes = errorStats(records)

	byItem := make(map[string][]models.PredictionRecord)
	for _, rec := range records {
		byItem[rec.ItemName] = append(byItem[rec.ItemName], rec)
	}
	for name, recs := range byItem {
		mae, signed := errorStats(recs)
		report.Items = append(report.Items, ItemAccuracy{
			Name:                 name,
			Resolved:             len(recs),
			MeanAbsErrorMinutes:  mae,
			MeanSignedErrMinutes: signed,
		})
	}
	sort.Slice(report.Items, func(i, j int) bool {
		if report.Items[i].Resolved != report.Items[j].Resolved {
			return report.Items[i].Resolved > report.Items[j].Resolved
		}
		return report.Items[i].Name < report.Items[j].Name
	})
	return report
}

func errorStats(records []models.PredictionRecord) (meanAbs, meanSigned float64) {
	if len(records) == 0 {
		return 0, 0
	}
	abs := make([]float64, len(records))
	signed := make([]float64, len(records))
	for i, rec := range records {
		signed[i] = rec.DifferenceMinutes
		abs[i] = math.Abs(rec.DifferenceMinutes)
	}
	return stat.Mean(abs, nil), stat.Mean(signed, nil)
}
