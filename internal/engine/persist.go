package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rewired-gh/restockoracle/internal/accuracy"
	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// Storage keys.
const (
	KeyEvents      = "restock/events"
	KeyPredictions = "restock/predictions"
	KeyWatchlist   = "restock/watchlist"
)

// Load restores events, predictions and the watchlist from storage,
// replacing whatever the engine holds. Missing keys leave that part empty.
func (e *Engine) Load(ctx context.Context) error {
	if e.kv == nil {
		return nil
	}

	var events []models.RestockEvent
	if _, err := e.loadJSON(ctx, KeyEvents, &events); err != nil {
		return err
	}
	var state accuracy.State
	hasState, err := e.loadJSON(ctx, KeyPredictions, &state)
	if err != nil {
		return err
	}
	var watched []string
	if _, err := e.loadJSON(ctx, KeyWatchlist, &watched); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range events {
		events[i].ID = models.EventID(events[i].Timestamp, events[i].Items)
	}
	e.store.Reset()
	added := e.store.AppendBatch(events)
	if added != len(events) {
		logger.Warn("storage held %d duplicate events, ignored", len(events)-added)
	}

	e.ledger.Reset()
	if hasState {
		if err := e.ledger.Import(state); err != nil {
			return fmt.Errorf("failed to restore predictions: %w", err)
		}
	}

	e.watchlist = make(map[string]struct{}, len(watched))
	for _, name := range watched {
		e.watchlist[name] = struct{}{}
	}

	logger.Info("Restored %d events, %d items with predictions, %d watched items",
		added, len(e.ledger.Items()), len(e.watchlist))
	return nil
}

// Save writes the full engine state to storage.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.saveJSON(ctx, KeyEvents, e.store.All()); err != nil {
		return err
	}
	if err := e.saveJSON(ctx, KeyPredictions, e.ledger.Export()); err != nil {
		return err
	}
	return e.saveJSON(ctx, KeyWatchlist, e.watchedLocked())
}

func (e *Engine) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := e.kv.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (e *Engine) saveJSON(ctx context.Context, key string, v any) error {
	if e.kv == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := e.kv.Save(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
