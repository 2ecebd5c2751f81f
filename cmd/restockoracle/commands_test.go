package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/restockoracle/internal/engine"
	"github.com/rewired-gh/restockoracle/internal/models"
	"github.com/rewired-gh/restockoracle/internal/storage"
)

func seededEngine(t *testing.T) *engine.Engine {
	t.Helper()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng := engine.New(storage.NewMemory(), engine.DefaultOptions())
	eng.SetClock(func() time.Time { return start.Add(10*24*time.Hour + time.Hour) })

	var events []models.RestockEvent
	for d := 0; d < 10; d++ {
		items := []models.RestockItem{{Name: "Carrot", Quantity: 3, Category: models.CategorySeed}}
		events = append(events, models.NewRestockEvent(start.Add(time.Duration(d)*24*time.Hour), items, models.SourceImported))
	}
	_, err := eng.Ingest(context.Background(), events)
	require.NoError(t, err)
	return eng
}

func TestBotCommands(t *testing.T) {
	ctx := context.Background()
	eng := seededEngine(t)
	cmds := botCommands(eng)

	for _, name := range []string{"alerts", "top", "item", "watch", "unwatch", "watchlist", "summary"} {
		require.Contains(t, cmds, name)
	}

	reply, err := cmds["watchlist"](ctx, "")
	require.NoError(t, err)
	assert.Contains(t, reply, "empty")

	reply, err = cmds["watch"](ctx, "Carrot")
	require.NoError(t, err)
	assert.Equal(t, "Watching Carrot", reply)
	assert.Equal(t, []string{"Carrot"}, eng.GetWatchedItems())

	reply, err = cmds["watchlist"](ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Watching: Carrot", reply)

	reply, err = cmds["unwatch"](ctx, "Tomato")
	require.NoError(t, err)
	assert.Contains(t, reply, "was not on the watchlist")

	reply, err = cmds["unwatch"](ctx, "Carrot")
	require.NoError(t, err)
	assert.Equal(t, "Stopped watching Carrot", reply)

	_, err = cmds["watch"](ctx, "")
	assert.Error(t, err)

	reply, err = cmds["item"](ctx, "Carrot")
	require.NoError(t, err)
	assert.Contains(t, reply, "Carrot (9 intervals")

	_, err = cmds["item"](ctx, "Nope")
	assert.ErrorIs(t, err, engine.ErrUnknownItem)

	reply, err = cmds["top"](ctx, "")
	require.NoError(t, err)
	assert.Contains(t, reply, "1. Carrot")

	reply, err = cmds["summary"](ctx, "")
	require.NoError(t, err)
	assert.Contains(t, reply, "10 restocks of 1 items")
}

func TestCycleTrackerCountsFailures(t *testing.T) {
	tr := newCycleTracker("feed", nil)

	tr.handle(errors.New("boom"))
	tr.handle(errors.New("boom"))
	assert.Equal(t, 2, tr.consecutiveFailures)

	tr.handle(context.Canceled)
	assert.Equal(t, 2, tr.consecutiveFailures)

	tr.handle(nil)
	assert.Equal(t, 0, tr.consecutiveFailures)
}

func TestMonitoringCycleWithoutTelegramMarksNotified(t *testing.T) {
	eng := seededEngine(t)
	require.NoError(t, runMonitoringCycle(eng, nil, time.Hour))
	assert.Empty(t, eng.PendingAlerts(time.Hour))
}
