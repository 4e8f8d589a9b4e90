package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/st-keller/edge-commandloop/envelope"
)

// nextID hands out correlation ids. They only need to be unique within the
// process; the client echoes them without interpretation.
var nextID atomic.Int64

func newID() int64 {
	return nextID.Add(1)
}

// nothing is the idle answer to a poll.
func nothing() envelope.Command {
	return envelope.Command{
		Envelope: envelope.Envelope{Topic: envelope.TopicNothing, ID: newID(), Payload: json.RawMessage("null")},
	}
}

// postman queues commands for one page and matches replies to callers
// waiting on them.
type postman struct {
	mu      sync.Mutex
	queue   []envelope.Command
	waiting map[int64]chan json.RawMessage
}

func newPostman() *postman {
	return &postman{waiting: make(map[int64]chan json.RawMessage)}
}

// send queues a command without waiting for a result.
func (p *postman) send(topic string, payload any) error {
	env, err := envelope.New(topic, newID(), payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.queue = append(p.queue, envelope.Command{Envelope: env})
	p.mu.Unlock()
	return nil
}

// call queues a command that asks for a reply and blocks until the reply
// arrives or ctx is done.
func (p *postman) call(ctx context.Context, topic string, payload any) (json.RawMessage, error) {
	env, err := envelope.New(topic, newID(), payload)
	if err != nil {
		return nil, err
	}
	cmd := envelope.Command{Envelope: env, ShouldRespond: true}
	reply := make(chan json.RawMessage, 1)

	p.mu.Lock()
	p.waiting[cmd.ID] = reply
	p.queue = append(p.queue, cmd)
	p.mu.Unlock()

	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiting, cmd.ID)
		p.mu.Unlock()
		return nil, fmt.Errorf("waiting for %s reply (id %d): %w", topic, cmd.ID, ctx.Err())
	}
}

// deliver hands a reply to its waiting caller. It reports false when no
// caller is waiting on id.
func (p *postman) deliver(id int64, payload json.RawMessage) bool {
	p.mu.Lock()
	reply, ok := p.waiting[id]
	delete(p.waiting, id)
	p.mu.Unlock()

	if !ok {
		return false
	}
	reply <- payload
	return true
}

// next pops the oldest queued command, or returns a nothing packet.
func (p *postman) next() envelope.Command {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return nothing()
	}
	cmd := p.queue[0]
	p.queue = p.queue[1:]
	return cmd
}

// invalidate drops every queued command so a reloaded page does not see
// commands meant for its previous incarnation.
func (p *postman) invalidate() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
}

// buffer queues n nothing packets. A freshly loaded page can lose its first
// answers while its scripts start, so they are padded.
func (p *postman) buffer(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.queue = append(p.queue, nothing())
	}
}

func (p *postman) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
