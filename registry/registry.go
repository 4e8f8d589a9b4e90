// Package registry implements the closed set of commands a server may
// invoke on the client.
//
// Every topic maps to a handler compiled into the program. The server can
// trigger client behavior by name with a JSON payload, but it cannot ship
// code: the legacy "javascript" topic is reserved and can never be
// registered.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/st-keller/edge-commandloop/envelope"
)

// Handler runs one command. The returned value becomes the reply payload
// when the server asked for a response; nil is sent as null.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

var (
	// ErrReservedTopic is returned when registering a protocol topic.
	ErrReservedTopic = errors.New("topic is reserved by the protocol")

	// ErrDuplicate is returned when a topic already has a handler.
	ErrDuplicate = errors.New("topic already registered")

	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("command handler panicked")
)

var reserved = map[string]bool{
	envelope.TopicClick:          true,
	envelope.TopicCommandLoop:    true,
	envelope.TopicJavascript:     true,
	envelope.TopicUpdateInterval: true,
	envelope.TopicNothing:        true,
}

// IsReserved reports whether topic belongs to the protocol itself.
func IsReserved(topic string) bool {
	return reserved[topic]
}

// Registry maps topics to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds handler to topic.
func (r *Registry) Register(topic string, handler Handler) error {
	if topic == "" {
		return fmt.Errorf("topic required")
	}
	if handler == nil {
		return fmt.Errorf("handler required for topic %s", topic)
	}
	if IsReserved(topic) {
		return fmt.Errorf("%w: %s", ErrReservedTopic, topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers[topic] != nil {
		return fmt.Errorf("%w: %s", ErrDuplicate, topic)
	}
	r.handlers[topic] = handler
	return nil
}

// MustRegister is Register for static wiring at startup. Panics on error.
func (r *Registry) MustRegister(topic string, handler Handler) {
	if err := r.Register(topic, handler); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler for topic. handled is false when no handler is
// registered, in which case result and err are nil.
func (r *Registry) Dispatch(ctx context.Context, topic string, payload json.RawMessage) (result any, handled bool, err error) {
	r.mu.RLock()
	handler := r.handlers[topic]
	r.mu.RUnlock()

	if handler == nil {
		return nil, false, nil
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result, handled = nil, true
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, topic, recovered)
		}
	}()

	result, err = handler(ctx, payload)
	return result, true, err
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.handlers))
	for topic := range r.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
