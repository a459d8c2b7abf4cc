// Package dispatch delivers query intents to registered sources over
// Server-Sent Events and collects the JSON events they stream back.
//
// Sources advertise sse:// or sses:// endpoints; the dispatcher rewrites
// those to http(s), POSTs the intent, and consumes the event stream until
// the source closes it.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrTransport wraps network-level dispatch failures (connect errors,
// timeouts, truncated streams).
var ErrTransport = errors.New("dispatch: transport failure")

// StatusError reports a non-2xx response from a source endpoint.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dispatch: %s returned status %d", e.URL, e.Code)
}

// DefaultTimeout bounds a full dispatch (connect plus stream consumption)
// when the caller supplies no client.
const DefaultTimeout = 30 * time.Second

// Dispatcher sends intents to SSE source endpoints.
type Dispatcher struct {
	client     *http.Client
	ownsClient bool
	logger     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient supplies a shared HTTP client. The Dispatcher will not close
// it on Close.
func WithClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
		d.ownsClient = false
	}
}

// WithTimeout overrides the owned client's timeout. Ignored when a shared
// client is supplied.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if d.ownsClient {
			d.client.Timeout = t
		}
	}
}

// New creates a Dispatcher. Without options it owns its own HTTP client
// with DefaultTimeout.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:     &http.Client{Timeout: DefaultTimeout},
		ownsClient: true,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// endpointURL rewrites the catalog's sse schemes to their HTTP carriers.
// Endpoints already using http(s) pass through unchanged.
func endpointURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "sse://"):
		return "http://" + strings.TrimPrefix(endpoint, "sse://")
	case strings.HasPrefix(endpoint, "sses://"):
		return "https://" + strings.TrimPrefix(endpoint, "sses://")
	default:
		return endpoint
	}
}

type intentPayload struct {
	Intent string `json:"intent"`
}

// Query POSTs the intent to the source and returns every well-formed JSON
// event the stream produced, in arrival order. Malformed events are dropped
// with a warning rather than failing the dispatch.
func (d *Dispatcher) Query(ctx context.Context, endpoint, intent string) ([]any, error) {
	target := endpointURL(endpoint)

	body, err := json.Marshal(intentPayload{Intent: intent})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal intent: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}

	events, err := d.readStream(resp.Body, target)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// readStream consumes an SSE body. Consecutive data lines accumulate into
// one event; a blank line or EOF flushes the buffer. Comment, id, event,
// and retry lines are ignored. A single leading space after "data:" is
// stripped per the SSE framing rules.
func (d *Dispatcher) readStream(r io.Reader, target string) ([]any, error) {
	var events []any
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		raw := buf.String()
		buf.Reset()
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			d.logger.Warn("dispatch: dropping malformed event", "endpoint", target, "error", err)
			return
		}
		events = append(events, v)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive.
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(line, "data:")
			payload = strings.TrimPrefix(payload, " ")
			buf.WriteString(payload)
		default:
			// id:, event:, retry:, and unknown fields carry no payload here.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stream from %s: %w", ErrTransport, target, err)
	}
	flush()

	return events, nil
}

// Close releases the owned HTTP client's idle connections. Shared clients
// are left untouched.
func (d *Dispatcher) Close() {
	if d.ownsClient {
		d.client.CloseIdleConnections()
	}
}
