package feed

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/restockoracle/internal/models"
)

const sampleExport = `[
  {"timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 5, "category": "Seed"}, {"name": "Tomato", "quantity": 2, "category": "seed"}]},
  {"timestamp": 1772359200000, "items": [{"name": "Carrot", "quantity": 3}]},
  {"timestamp": "1772362800000", "items": [{"name": "Mythical Egg", "quantity": 1, "category": "egg"}], "source": "manual"}
]`

func TestParseExport_Array(t *testing.T) {
	events, rejected, err := ParseExport(strings.NewReader(sampleExport))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, events, 3)

	first := events[0]
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, models.SourceImported, first.Source)
	assert.Equal(t, models.CategorySeed, first.Items[0].Category)
	assert.Equal(t, models.EventID(first.Timestamp, first.Items), first.ID)

	assert.Equal(t, time.UnixMilli(1772359200000).UTC(), events[1].Timestamp)
	assert.Equal(t, models.CategoryUnknown, events[1].Items[0].Category)

	assert.Equal(t, time.UnixMilli(1772362800000).UTC(), events[2].Timestamp)
	assert.Equal(t, models.SourceManual, events[2].Source)
}

func TestParseExport_Envelope(t *testing.T) {
	doc := `{"events": [{"id": "fixed", "timestamp": "2026-03-01T09:00:00+02:00", "items": [{"name": "Carrot", "quantity": 1}]}]}`
	events, rejected, err := ParseExport(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventID(events[0].Timestamp, events[0].Items), events[0].ID)
	assert.Equal(t, time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC), events[0].Timestamp)
}

func TestParseExport_IDFromContentOnly(t *testing.T) {
	doc := `[
	  {"id": "live-obs-1", "timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 3}], "source": "live"},
	  {"timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 3}]}
	]`
	events, rejected, err := ParseExport(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].ID, events[1].ID)
	assert.Equal(t, models.SourceLive, events[0].Source)
}

func TestParseExport_UnknownSourceFallsBack(t *testing.T) {
	doc := `[
	  {"timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 3}], "source": "scraper"},
	  {"timestamp": "2026-03-01T10:00:00Z", "items": [{"name": "Carrot", "quantity": 3}], "source": " MANUAL "}
	]`
	events, _, err := ParseExport(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.SourceImported, events[0].Source)
	assert.Equal(t, models.SourceManual, events[1].Source)
}

func TestParseExport_RejectsRecordsIndividually(t *testing.T) {
	doc := `[
	  {"timestamp": "2026-03-01T09:00:00Z", "items": [{"name": "Carrot", "quantity": 5}]},
	  {"timestamp": "yesterday", "items": [{"name": "Carrot", "quantity": 5}]},
	  {"items": [{"name": "Carrot", "quantity": 5}]},
	  {"timestamp": "2026-03-01T10:00:00Z", "items": []},
	  {"timestamp": "2026-03-01T11:00:00Z", "items": [{"name": "Carrot"}]},
	  {"timestamp": "2026-03-01T12:00:00Z", "items": [{"name": "Carrot", "quantity": -1}]},
	  {"timestamp": -5, "items": [{"name": "Carrot", "quantity": 1}]},
	  "not an object",
	  {"timestamp": "2026-03-01T13:00:00Z", "items": [{"name": "Tomato", "quantity": 1}]}
	]`
	events, rejected, err := ParseExport(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Carrot", events[0].Items[0].Name)
	assert.Equal(t, "Tomato", events[1].Items[0].Name)

	var indices []int
	for _, r := range rejected {
		indices = append(indices, r.Index)
		assert.Error(t, r.Err)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, indices)
}

func TestParseExport_DocumentErrors(t *testing.T) {
	for _, doc := range []string{"", "   ", "{not json", `[{"timestamp": 1}`} {
		_, _, err := ParseExport(strings.NewReader(doc))
		assert.Error(t, err, "document %q", doc)
	}
}

func TestWriteExport_RoundTrip(t *testing.T) {
	events, _, err := ParseExport(strings.NewReader(sampleExport))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, events))

	again, rejected, err := ParseExport(&buf)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, events, again)
}

func TestImportError(t *testing.T) {
	cause := errors.New("timestamp is missing")
	err := ImportError{Index: 4, Err: cause}
	assert.Equal(t, "record 4: timestamp is missing", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestFetchEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Expected Accept: application/json, got %s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleExport))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, ClientConfig{MaxRetries: 1})
	events, rejected, err := client.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, events, 3)
	assert.Equal(t, models.SourceLive, events[0].Source)
	assert.Equal(t, models.SourceManual, events[2].Source)
}

func TestFetchEvents_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleExport))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
	events, _, err := client.FetchEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchEvents_GivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, ClientConfig{MaxRetries: 2, RetryDelayBase: time.Millisecond})
	_, _, err := client.FetchEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchEvents_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, ClientConfig{MaxRetries: 3, RetryDelayBase: time.Millisecond})
	_, _, err := client.FetchEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchEvents_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL, 5*time.Second, ClientConfig{MaxRetries: 5, RetryDelayBase: time.Hour})
	start := time.Now()
	_, _, err := client.FetchEvents(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
