package commandloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/st-keller/edge-commandloop/clock"
	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/registry"
	"github.com/st-keller/edge-commandloop/standard"
	"github.com/st-keller/edge-commandloop/transport"
	"github.com/st-keller/edge-commandloop/update"
)

// ErrAlreadyRunning is returned when a second poll loop is started on the
// same client.
var ErrAlreadyRunning = errors.New("poll loop already running")

// Exchanger performs the client's round trips. *transport.Transport is the
// production implementation.
type Exchanger interface {
	Send(ctx context.Context, env envelope.Envelope) (envelope.Command, error)
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
}

// Config holds client configuration. Only PageURL is required.
type Config struct {
	PageURL         string              // URL of the page whose command channel to poll
	InitialInterval update.Interval     // 0 = update.DefaultInterval
	TLS             transport.TLSConfig // zero = plain HTTP
	HTTPClient      *http.Client        // overrides TLS when set
	Registry        *registry.Registry  // nil = empty registry
	Clock           clock.Clock         // nil = clock.Real()
	Diagnostics     standard.Sink       // nil = RecentLogs(100) mirrored to Logger
	Logger          *slog.Logger        // nil = slog.Default()
	Exchanger       Exchanger           // nil = transport.New(PageURL, ...)
}

// Validate checks that the config can produce a working client.
func (c Config) Validate() error {
	if c.PageURL == "" {
		return fmt.Errorf("PageURL required")
	}
	parsed, err := url.Parse(c.PageURL)
	if err != nil {
		return fmt.Errorf("PageURL invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("PageURL must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("PageURL must include a host")
	}
	if c.InitialInterval < 0 {
		return fmt.Errorf("InitialInterval must be >= 0")
	}
	if c.InitialInterval > update.MaxInterval {
		return fmt.Errorf("InitialInterval must be <= %d", update.MaxInterval)
	}
	return nil
}

// Client polls one page's command channel.
type Client struct {
	config       Config
	exchanger    Exchanger
	registry     *registry.Registry
	interval     *update.State
	clock        clock.Clock
	sink         standard.Sink
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
	logger       *slog.Logger

	cycles   atomic.Int64
	failures atomic.Int64

	mu       sync.Mutex
	running  bool
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// New creates a client. The loop is not started.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	reg := config.Registry
	if reg == nil {
		reg = registry.New()
	}

	client := &Client{
		config:   config,
		registry: reg,
		interval: update.NewState(config.InitialInterval),
		clock:    clk,
		logger:   logger,
	}

	client.sink = config.Diagnostics
	if client.sink == nil {
		client.logs = standard.NewRecentLogs(100, logger)
		client.logs.SetTimeSource(clk.Now)
		client.sink = client.logs
	}

	client.exchanger = config.Exchanger
	if client.exchanger == nil {
		httpClient := config.HTTPClient
		if httpClient == nil {
			var err error
			httpClient, err = transport.BuildClient(config.TLS)
			if err != nil {
				return nil, fmt.Errorf("failed to build HTTP client: %w", err)
			}
		}
		client.connectivity = standard.NewConnectivityTracker()
		client.connectivity.SetTimeSource(clk.Now)
		tr := transport.New(config.PageURL, httpClient,
			transport.WithConnectivity(client.connectivity),
			transport.WithTimeSource(clk.Now),
		)
		logger.Debug("command channel transport ready", "endpoint", tr.Endpoint(), "tls", config.TLS.Enabled())
		client.exchanger = tr
	}

	logger.Info("command loop client initialized",
		"page_url", config.PageURL,
		"interval", client.interval.Get().String(),
		"commands", reg.Topics(),
	)

	return client, nil
}

// Register adds a command handler to the client's registry.
func (c *Client) Register(topic string, handler registry.Handler) error {
	return c.registry.Register(topic, handler)
}

// Registry returns the command registry.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// UpdateInterval returns the current poll interval.
func (c *Client) UpdateInterval() update.Interval {
	return c.interval.Get()
}

// Cycles returns how many poll cycles have started.
func (c *Client) Cycles() int64 {
	return c.cycles.Load()
}

// Failures returns how many poll cycles had at least one failed step.
func (c *Client) Failures() int64 {
	return c.failures.Load()
}

// Logs returns the built-in diagnostics buffer, or nil when a custom sink
// was configured.
func (c *Client) Logs() *standard.RecentLogs {
	return c.logs
}

// Connectivity returns the round-trip tracker of the built-in transport, or
// nil when a custom Exchanger was configured.
func (c *Client) Connectivity() *standard.ConnectivityTracker {
	return c.connectivity
}

// Notify reports activation of the UI element sourceID. The server's answer
// is discarded.
func (c *Client) Notify(ctx context.Context, sourceID string) error {
	if _, err := c.exchanger.Send(ctx, envelope.Click(sourceID)); err != nil {
		c.sink.Log(standard.LevelError, "click notification failed", map[string]any{
			"source_id": sourceID,
			"error":     err.Error(),
		})
		return fmt.Errorf("notify %s: %w", sourceID, err)
	}
	return nil
}

// Fetch retrieves JSON from url outside the command protocol.
func (c *Client) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	data, err := c.exchanger.Fetch(ctx, url)
	if err != nil {
		c.sink.Log(standard.LevelWarn, "fetch failed", map[string]any{
			"url":   url,
			"error": err.Error(),
		})
		return nil, err
	}
	return data, nil
}

// Start runs the poll loop on a background goroutine until Stop.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.stopLoop != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopLoop = cancel
	c.loopDone = done

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("poll loop exited", "error", err)
		}
	}()
	return nil
}

// Stop ends a loop started with Start and waits for its current cycle to
// finish. It is a no-op when the loop is not running.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.stopLoop, c.loopDone
	c.stopLoop, c.loopDone = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.logger.Info("command loop client stopped",
		"page_url", c.config.PageURL,
		"cycles", c.cycles.Load(),
		"failures", c.failures.Load(),
	)
}
