// Package feed brings restock observations into the engine. It parses the
// canonical JSON export and polls a live HTTP feed that serves the same
// format.
//
// An export is either a JSON array of records or an object with an "events"
// array. Each record looks like:
//
//	{"timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 5, "category": "seed"}]}
//
// The timestamp may also be epoch milliseconds. An "id" field is accepted but
// ignored: the event ID is always derived from the timestamp and items. A
// record that cannot be
// parsed is reported as an ImportError and the rest of the batch continues.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// ImportError describes one rejected export record.
type ImportError struct {
	Index int
	Err   error
}

func (e ImportError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e ImportError) Unwrap() error {
	return e.Err
}

type exportRecord struct {
	ID        string          `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Items     []exportItem    `json:"items"`
	Source    string          `json:"source"`
}

type exportItem struct {
	Name     string `json:"name"`
	Quantity *int   `json:"quantity"`
	Category string `json:"category"`
}

type exportEnvelope struct {
	Events []json.RawMessage `json:"events"`
}

// ParseExport reads a canonical JSON export. Records without a source are
// tagged as imported. The error is non-nil only when the document itself is
// unreadable.
func ParseExport(r io.Reader) ([]models.RestockEvent, []ImportError, error) {
	return parse(r, models.SourceImported)
}

func parse(r io.Reader, defaultSource models.Source) ([]models.RestockEvent, []ImportError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read export: %w", err)
	}

	raw, err := splitRecords(data)
	if err != nil {
		return nil, nil, err
	}

	events := make([]models.RestockEvent, 0, len(raw))
	var rejected []ImportError
	for i, msg := range raw {
		ev, err := decodeRecord(msg, defaultSource)
		if err != nil {
			logger.Debug("Rejected export record %d: %v", i, err)
			rejected = append(rejected, ImportError{Index: i, Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, rejected, nil
}

func splitRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("export is empty")
	}

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to decode export: %w", err)
		}
		return records, nil
	}

	var env exportEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode export: %w", err)
	}
	return env.Events, nil
}

func decodeRecord(msg json.RawMessage, defaultSource models.Source) (models.RestockEvent, error) {
	var rec exportRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		return models.RestockEvent{}, fmt.Errorf("malformed record: %w", err)
	}

	ts, err := parseTimestamp(rec.Timestamp)
	if err != nil {
		return models.RestockEvent{}, err
	}

	items := make([]models.RestockItem, 0, len(rec.Items))
	for j, it := range rec.Items {
		if it.Quantity == nil {
			return models.RestockEvent{}, fmt.Errorf("item %d: quantity is missing", j)
		}
		items = append(items, models.RestockItem{
			Name:     strings.TrimSpace(it.Name),
			Quantity: *it.Quantity,
			Category: models.ParseCategory(it.Category),
		})
	}

	// A supplied id is informational only; identity comes from content.
	ev := models.NewRestockEvent(ts, items, models.ParseSource(rec.Source, defaultSource))
	if err := ev.Validate(); err != nil {
		return models.RestockEvent{}, err
	}
	return ev, nil
}

// parseTimestamp accepts an RFC 3339 string, a numeric string or a JSON
// number of epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, errors.New("timestamp is missing")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromMillis(ms)
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %s", string(raw))
	}
	ms, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return time.Time{}, fmt.Errorf("unrecognized timestamp %s", string(raw))
		}
		ms = int64(f)
	}
	return fromMillis(ms)
}

func fromMillis(ms int64) (time.Time, error) {
	if ms <= 0 {
		return time.Time{}, fmt.Errorf("timestamp %d is not a positive epoch millisecond value", ms)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// WriteExport writes events in the canonical export format.
func WriteExport(w io.Writer, events []models.RestockEvent) error {
	records := make([]exportRecordOut, 0, len(events))
	for _, ev := range events {
		records = append(records, exportRecordOut{
			ID:        ev.ID,
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Items:     ev.Items,
			Source:    string(ev.Source),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

type exportRecordOut struct {
	ID        string               `json:"id"`
	Timestamp string               `json:"timestamp"`
	Items     []models.RestockItem `json:"items"`
	Source    string               `json:"source,omitempty"`
}
