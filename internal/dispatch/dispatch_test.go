package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sseServer streams the given raw body as text/event-stream and captures the
// request body it received.
func sseServer(t *testing.T, stream string, gotBody *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if gotBody != nil {
			*gotBody = string(body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, stream)
	}))
}

func sseEndpoint(srv *httptest.Server) string {
	return "sse://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestQuerySingleEvent(t *testing.T) {
	var gotBody string
	srv := sseServer(t, "data: {\"rows\": 3}\n\n", &gotBody)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "find oncology trials")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev, ok := events[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), ev["rows"])

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(gotBody), &payload))
	assert.Equal(t, "find oncology trials", payload["intent"])
}

func TestQueryMultiLineEvent(t *testing.T) {
	// A single logical event split across consecutive data lines.
	stream := "data: {\"a\":\ndata:  1}\n\n"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, float64(1), ev["a"])
}

func TestQueryMultipleEvents(t *testing.T) {
	stream := "data: {\"n\": 1}\n\ndata: {\"n\": 2}\n\ndata: {\"n\": 3}\n\n"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, want := range []float64{1, 2, 3} {
		assert.Equal(t, want, events[i].(map[string]any)["n"])
	}
}

func TestQueryIgnoresNonDataFields(t *testing.T) {
	stream := ": keep-alive comment\n" +
		"id: 42\n" +
		"event: update\n" +
		"retry: 1000\n" +
		"data: {\"ok\": true}\n\n"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].(map[string]any)["ok"])
}

func TestQueryEmptyKeepAlivesProduceNothing(t *testing.T) {
	stream := "\n\n: ping\n\n\n"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueryDropsMalformedEvents(t *testing.T) {
	stream := "data: not json at all\n\ndata: {\"good\": 1}\n\n"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	require.Len(t, events, 1, "malformed event dropped, good one kept")
	assert.Equal(t, float64(1), events[0].(map[string]any)["good"])
}

func TestQueryFlushesAtEOFWithoutTrailingBlank(t *testing.T) {
	stream := "data: {\"tail\": true}"
	srv := sseServer(t, stream, nil)
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].(map[string]any)["tail"])
}

func TestQueryStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	_, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestQueryConnectionRefused(t *testing.T) {
	d := New(testLogger())
	defer d.Close()

	_, err := d.Query(context.Background(), "sse://127.0.0.1:1/query", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestQueryContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	d := New(testLogger())
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Query(ctx, sseEndpoint(srv), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sse://host:8001/query", "http://host:8001/query"},
		{"sses://host/query", "https://host/query"},
		{"http://host/query", "http://host/query"},
		{"https://host/query", "https://host/query"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, endpointURL(tt.in), tt.in)
	}
}

func TestWithClientIsNotClosed(t *testing.T) {
	shared := &http.Client{Timeout: time.Second}
	d := New(testLogger(), WithClient(shared))
	d.Close()

	srv := sseServer(t, "data: {\"ok\": true}\n\n", nil)
	defer srv.Close()

	// The shared client still works after Close.
	events, err := d.Query(context.Background(), sseEndpoint(srv), "x")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
