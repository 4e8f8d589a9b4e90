package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/registry"
)

// terminal renders page commands as lines of text. Input values come from
// a fixed map since there is no page to read them from.
type terminal struct {
	mu     sync.Mutex
	out    io.Writer
	inputs map[string]string
}

func newTerminal(out io.Writer, inputs map[string]string) *terminal {
	if inputs == nil {
		inputs = map[string]string{}
	}
	return &terminal{out: out, inputs: inputs}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

// register adds a handler for every structured page topic.
func (t *terminal) register(reg *registry.Registry) error {
	handlers := map[string]registry.Handler{
		envelope.TopicSetText:       t.setText("text"),
		envelope.TopicSetButtonText: t.setText("button"),
		envelope.TopicConsoleLog:    t.consoleLog,
		envelope.TopicSetImageSrc:   t.setImageSrc,
		envelope.TopicGetInputData:  t.getInputData,
	}
	for topic, handler := range handlers {
		if err := reg.Register(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func (t *terminal) setText(kind string) registry.Handler {
	return func(_ context.Context, payload json.RawMessage) (any, error) {
		var text envelope.ElementText
		if err := json.Unmarshal(payload, &text); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		t.printf("%s #%s = %q", kind, text.ID, text.Text)
		return nil, nil
	}
}

func (t *terminal) consoleLog(_ context.Context, payload json.RawMessage) (any, error) {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		// Not every server sends strings.
		text = string(payload)
	}
	t.printf("console: %s", text)
	return nil, nil
}

func (t *terminal) setImageSrc(_ context.Context, payload json.RawMessage) (any, error) {
	var image envelope.ImageSource
	if err := json.Unmarshal(payload, &image); err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	src := image.Src
	if len(src) > 48 {
		src = fmt.Sprintf("%s... (%d bytes)", src[:48], len(image.Src))
	}
	t.printf("image #%s = %s", image.ID, src)
	return nil, nil
}

func (t *terminal) getInputData(_ context.Context, payload json.RawMessage) (any, error) {
	var ref envelope.ElementRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, fmt.Errorf("decode input payload: %w", err)
	}
	value, ok := t.inputs[ref.ID]
	if !ok {
		return nil, nil
	}
	return value, nil
}
