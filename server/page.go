package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/update"
)

// DefaultPageInterval is the poll interval a page asks for after loading.
const DefaultPageInterval update.Interval = 100

// Page is one page of the web app and the command channel its client polls.
type Page struct {
	path     string
	template *template.Template
	data     any
	postman  *postman
	logger   *slog.Logger

	mu        sync.Mutex
	interval  update.Interval
	loaded    bool
	loadedCh  chan struct{}
	onLoad    func()
	callbacks map[string]func()
}

func newPage(path string, tmpl *template.Template, data any, logger *slog.Logger) *Page {
	return &Page{
		path:      path,
		template:  tmpl,
		data:      data,
		postman:   newPostman(),
		logger:    logger.With("page", path),
		interval:  DefaultPageInterval,
		loadedCh:  make(chan struct{}),
		onLoad:    func() {},
		callbacks: make(map[string]func()),
	}
}

// Path returns the URL path the page is served at.
func (p *Page) Path() string {
	return p.path
}

// SetOnLoad sets the function run whenever the page loads or reloads. It
// runs on its own goroutine so it may call Call without stalling the poll
// that reported the load.
func (p *Page) SetOnLoad(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	p.mu.Lock()
	p.onLoad = fn
	p.mu.Unlock()
}

// OnButtonClick registers callback for clicks on the element id.
func (p *Page) OnButtonClick(id string, callback func()) {
	p.mu.Lock()
	p.callbacks[id] = callback
	p.mu.Unlock()
}

// WaitForLoad blocks until the page's client has made its first POST.
func (p *Page) WaitForLoad(ctx context.Context) error {
	p.mu.Lock()
	loaded := p.loadedCh
	p.mu.Unlock()

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loaded reports whether the page's client has polled since the last GET.
func (p *Page) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// UpdateInterval returns the poll interval the page asks its client for.
func (p *Page) UpdateInterval() update.Interval {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetUpdateInterval records the interval and queues an update_interval
// command for the client.
func (p *Page) SetUpdateInterval(interval update.Interval) error {
	if interval <= 0 || interval > update.MaxInterval {
		return fmt.Errorf("%w: %d must be in 1..%d", update.ErrInvalidInterval, interval, update.MaxInterval)
	}
	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
	return p.postman.send(envelope.TopicUpdateInterval, int64(interval))
}

// Send queues a command for the client without waiting for its result.
func (p *Page) Send(topic string, payload any) error {
	return p.postman.send(topic, payload)
}

// Call queues a command that asks the client to reply, and waits for the
// reply payload.
func (p *Page) Call(ctx context.Context, topic string, payload any) (json.RawMessage, error) {
	return p.postman.call(ctx, topic, payload)
}

// SetText sets the text content of element id.
func (p *Page) SetText(id, text string) error {
	return p.Send(envelope.TopicSetText, envelope.ElementText{ID: id, Text: text})
}

// SetButtonText sets the label of button id.
func (p *Page) SetButtonText(id, text string) error {
	return p.Send(envelope.TopicSetButtonText, envelope.ElementText{ID: id, Text: text})
}

// ConsoleLog writes text to the client's console.
func (p *Page) ConsoleLog(text string) error {
	return p.Send(envelope.TopicConsoleLog, text)
}

// SetImageSrc sets the src attribute of image id.
func (p *Page) SetImageSrc(id, src string) error {
	return p.Send(envelope.TopicSetImageSrc, envelope.ImageSource{ID: id, Src: src})
}

// SetImageBase64 shows base64-encoded image data in image id. An empty
// filetype means jpg.
func (p *Page) SetImageBase64(id, data, filetype string) error {
	if filetype == "" {
		filetype = "jpg"
	}
	return p.SetImageSrc(id, fmt.Sprintf("data:image/%s;base64,%s", filetype, data))
}

// GetInputData returns the current value of input element id.
func (p *Page) GetInputData(ctx context.Context, id string) (string, error) {
	raw, err := p.Call(ctx, envelope.TopicGetInputData, envelope.ElementRef{ID: id})
	if err != nil {
		return "", err
	}
	if envelope.IsNull(raw) {
		return "", nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("input %s: expected a string, got %s", id, raw)
	}
	return value, nil
}

// handleGet serves the page. A GET means the page was (re)loaded, so the
// queue is reset and the current interval is pushed again.
func (p *Page) handleGet(c *gin.Context) {
	p.mu.Lock()
	if p.loaded {
		p.loaded = false
		p.loadedCh = make(chan struct{})
	}
	interval := p.interval
	p.mu.Unlock()

	p.postman.invalidate()
	p.postman.buffer(2)
	if err := p.postman.send(envelope.TopicUpdateInterval, int64(interval)); err != nil {
		p.logger.Error("queueing update interval", "error", err)
	}

	c.Render(http.StatusOK, render.HTML{Template: p.template, Data: p.data})
}

// handlePost serves the command channel.
func (p *Page) handlePost(c *gin.Context) {
	var msg envelope.Envelope
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Any POST means the page's scripts are running.
	p.markLoaded()

	switch msg.Topic {
	case envelope.TopicCommandLoop:
		c.JSON(http.StatusOK, p.postman.next())
		return

	case envelope.TopicClick:
		var click envelope.ClickPayload
		if err := json.Unmarshal(msg.Payload, &click); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "onclick payload: " + err.Error()})
			return
		}
		p.mu.Lock()
		callback := p.callbacks[click.ID]
		p.mu.Unlock()
		if callback != nil {
			callback()
		} else {
			p.logger.Debug("click without callback", "id", click.ID)
		}

	default:
		if !p.postman.deliver(msg.ID, msg.Payload) {
			p.logger.Warn("reply for unknown request", "topic", msg.Topic, "id", msg.ID)
		}
	}

	c.JSON(http.StatusOK, nothing())
}

func (p *Page) markLoaded() {
	p.mu.Lock()
	if p.loaded {
		p.mu.Unlock()
		return
	}
	p.loaded = true
	close(p.loadedCh)
	onLoad := p.onLoad
	p.mu.Unlock()

	go onLoad()
}
