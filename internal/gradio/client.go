// Package gradio is a small client for the HTTP API exposed by Gradio apps:
// it reads the app configuration and runs named jobs through the queued
// call endpoint, reading results from the server-sent event stream.
package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrUnreachable wraps transport failures talking to the app.
	ErrUnreachable = errors.New("gradio endpoint unreachable")

	// ErrPredictionFailed is returned when the job stream reports an error event.
	ErrPredictionFailed = errors.New("gradio prediction failed")
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("gradio %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gradio %s: status %d", e.Op, e.StatusCode)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// Client is bound to a single Gradio app. It is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	config   Config
}

// Connect fetches the app configuration. It fails if the endpoint cannot be
// reached or does not serve a Gradio config.
func Connect(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrUnreachable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("config", resp); err != nil {
		return nil, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.config); err != nil {
		return nil, fmt.Errorf("decode gradio config: %w", err)
	}
	return c, nil
}

// Config returns the configuration read at connect time.
func (c *Client) Config() Config {
	return c.config
}

// Choices returns the choices of the first component carrying label.
func (c *Client) Choices(label string) ([]string, bool) {
	comp, ok := c.config.Component(label)
	if !ok {
		return nil, false
	}
	return comp.Props.Choices.Values(), true
}

type callRequest struct {
	Data []any `json:"data"`
}

type callResponse struct {
	EventID string `json:"event_id"`
}

// Predict runs the named job with positional inputs and returns the output
// data array of the completed event.
func (c *Client) Predict(ctx context.Context, job string, data ...any) ([]json.RawMessage, error) {
	if data == nil {
		data = []any{}
	}
	body, err := json.Marshal(callRequest{Data: data})
	if err != nil {
		return nil, err
	}

	callURL := c.endpoint + c.apiPrefix() + "/call/" + strings.TrimPrefix(job, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	var call callResponse
	err = checkStatus("call", resp)
	if err == nil {
		err = json.NewDecoder(resp.Body).Decode(&call)
	}
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if call.EventID == "" {
		return nil, fmt.Errorf("gradio call %s: missing event id", job)
	}

	return c.awaitResult(ctx, callURL+"/"+call.EventID)
}

func (c *Client) awaitResult(ctx context.Context, url string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("result", resp); err != nil {
		return nil, err
	}

	events := newEventScanner(resp.Body)
	for events.Scan() {
		ev := events.Event()
		switch ev.Name {
		case "complete":
			var out []json.RawMessage
			if err := json.Unmarshal([]byte(ev.Data), &out); err != nil {
				return nil, fmt.Errorf("decode gradio result: %w", err)
			}
			return out, nil
		case "error":
			msg := strings.TrimSpace(ev.Data)
			if msg == "" || msg == "null" {
				return nil, ErrPredictionFailed
			}
			return nil, fmt.Errorf("%w: %s", ErrPredictionFailed, msg)
		}
	}
	if err := events.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil, fmt.Errorf("%w: result stream ended without completion", ErrPredictionFailed)
}

// apiPrefix is the route prefix announced by the app. Gradio 5 sends one
// ("/gradio_api"); 4.x omits it and serves the queue at the root.
func (c *Client) apiPrefix() string {
	prefix := strings.Trim(c.config.APIPrefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
