// Package transport moves one envelope out and one back per HTTP request.
//
// Each call is exactly one round trip: no retries, no caching, no
// deduplication. Failures are returned to the caller; the poll loop decides
// what to do with them.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/standard"
)

// MaxResponseSize bounds response body reads. Command envelopes are tiny;
// the bound only stops a misbehaving server from exhausting memory.
const MaxResponseSize int64 = 256 << 20

// MaxErrorBody bounds the response excerpt kept in a StatusError.
const MaxErrorBody = 512

// LabelFetch is the connectivity label for out-of-channel GETs.
const LabelFetch = "fetch"

var (
	// ErrRequest wraps failures to issue a request or read its response.
	ErrRequest = errors.New("request failed")

	// ErrDecode wraps response bodies that are not valid JSON.
	ErrDecode = errors.New("invalid JSON response")
)

// StatusError is returned for non-2xx responses. Body holds at most
// MaxErrorBody bytes of the response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func excerpt(data []byte) string {
	if len(data) <= MaxErrorBody {
		return string(data)
	}
	return string(data[:MaxErrorBody]) + "..."
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Transport exchanges envelopes with the page server at a fixed URL.
type Transport struct {
	endpoint     string
	http         *http.Client
	connectivity *standard.ConnectivityTracker
	now          func() time.Time
}

// Option configures a Transport.
type Option func(*Transport)

// WithConnectivity records every round trip in tracker.
func WithConnectivity(tracker *standard.ConnectivityTracker) Option {
	return func(t *Transport) { t.connectivity = tracker }
}

// WithTimeSource replaces the clock used for latency measurement.
func WithTimeSource(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// New returns a Transport posting to endpoint. A nil httpClient uses
// http.DefaultClient.
func New(endpoint string, httpClient *http.Client, opts ...Option) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	t := &Transport{
		endpoint:     endpoint,
		http:         httpClient,
		connectivity: standard.NewConnectivityTracker(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint returns the URL envelopes are posted to.
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Connectivity returns the tracker recording this transport's round trips.
func (t *Transport) Connectivity() *standard.ConnectivityTracker {
	return t.connectivity
}

// Send posts env as JSON and decodes the response body as a Command.
func (t *Transport) Send(ctx context.Context, env envelope.Envelope) (envelope.Command, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return envelope.Command{}, fmt.Errorf("encoding %s envelope: %w", env.Topic, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return envelope.Command{}, fmt.Errorf("%w: building %s request: %v", ErrRequest, env.Topic, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	data, err := t.do(req, env.Topic)
	if err != nil {
		return envelope.Command{}, err
	}

	var cmd envelope.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return envelope.Command{}, fmt.Errorf("%w: %s response: %v", ErrDecode, env.Topic, err)
	}
	return cmd, nil
}

// Fetch issues a GET to url and returns the JSON body. It is for data
// retrieval outside the command protocol.
func (t *Transport) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building fetch request: %v", ErrRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	data, err := t.do(req, LabelFetch)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: GET %s", ErrDecode, url)
	}
	return json.RawMessage(data), nil
}

// do performs one round trip and returns the bounded body of a 2xx
// response. The latency and outcome are recorded under label.
func (t *Transport) do(req *http.Request, label string) ([]byte, error) {
	url := req.URL.String()
	start := t.now()

	resp, err := t.http.Do(req)
	latency := t.now().Sub(start)
	if err != nil {
		t.connectivity.TrackFailure(label, url, latency, err.Error())
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRequest, req.Method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody+1))
		statusErr := &StatusError{Method: req.Method, URL: url, Code: resp.StatusCode, Body: excerpt(data)}
		t.connectivity.TrackFailure(label, url, latency, statusErr.Error())
		return nil, statusErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		t.connectivity.TrackFailure(label, url, latency, err.Error())
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrRequest, label, err)
	}

	t.connectivity.TrackSuccess(label, url, latency)
	return data, nil
}
