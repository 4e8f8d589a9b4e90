package commandloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/st-keller/edge-commandloop/clock"
	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/registry"
	"github.com/st-keller/edge-commandloop/standard"
	"github.com/st-keller/edge-commandloop/update"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const nothing = `{"topic":"nothing","id":1,"payload":null,"should_respond":false}`

// pageServer answers polls from a script and records every request body in
// arrival order. A script entry of the form "!<code>" answers with that HTTP
// status instead of a command.
type pageServer struct {
	server   *httptest.Server
	requests chan string

	mu     sync.Mutex
	script []string
}

func newPageServer(t *testing.T, script ...string) *pageServer {
	t.Helper()
	ps := &pageServer{requests: make(chan string, 64), script: script}
	ps.server = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(ps.server.Close)
	return ps
}

func (ps *pageServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	ps.requests <- string(body)

	var env envelope.Envelope
	json.Unmarshal(body, &env)
	if env.Topic != envelope.TopicCommandLoop {
		io.WriteString(w, nothing)
		return
	}

	ps.mu.Lock()
	answer := nothing
	if len(ps.script) > 0 {
		answer, ps.script = ps.script[0], ps.script[1:]
	}
	ps.mu.Unlock()

	switch answer {
	case "!500":
		http.Error(w, "internal error", http.StatusInternalServerError)
	case "!garbage":
		io.WriteString(w, "<html>")
	default:
		io.WriteString(w, answer)
	}
}

// next returns the next recorded request body.
func (ps *pageServer) next(t *testing.T) envelope.Envelope {
	t.Helper()
	select {
	case body := <-ps.requests:
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			t.Fatalf("request body %q: %v", body, err)
		}
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a request")
		return envelope.Envelope{}
	}
}

func (ps *pageServer) assertNoRequest(t *testing.T) {
	t.Helper()
	select {
	case body := <-ps.requests:
		t.Fatalf("unexpected request %s", body)
	default:
	}
}

type harness struct {
	client *Client
	clock  *clock.FakeClock
	page   *pageServer
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func startLoop(t *testing.T, reg *registry.Registry, script ...string) *harness {
	t.Helper()
	page := newPageServer(t, script...)
	fake := clock.Fake(epoch)

	client, err := New(Config{
		PageURL:         page.server.URL + "/",
		InitialInterval: 50,
		HTTPClient:      page.server.Client(),
		Registry:        reg,
		Clock:           fake,
		Logger:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{client: client, clock: fake, page: page, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.err = client.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
}

// settle waits until the loop is parked on its next interval timer, which
// means the current cycle (poll, dispatch, reply) has fully completed.
func (h *harness) settle(t *testing.T) time.Duration {
	t.Helper()
	h.clock.WaitForTimers(1)
	d, ok := h.clock.NextDeadline()
	if !ok {
		t.Fatal("no pending timer after WaitForTimers")
	}
	return d
}

func TestUpdateIntervalDelaysNextPoll(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"update_interval","id":-1,"payload":500,"should_respond":false}`,
	)

	if first := h.page.next(t); first.Topic != envelope.TopicCommandLoop || first.ID != envelope.NoReply {
		t.Fatalf("first request = %+v, want poll", first)
	}

	if wait := h.settle(t); wait != 500*time.Millisecond {
		t.Fatalf("next poll scheduled after %v, want 500ms", wait)
	}
	h.page.assertNoRequest(t)
	if got := h.client.UpdateInterval(); got != 500 {
		t.Fatalf("UpdateInterval() = %v, want 500", got)
	}

	h.clock.Advance(499 * time.Millisecond)
	if h.clock.Pending() != 1 {
		t.Fatal("second poll released before 500ms elapsed")
	}
	h.page.assertNoRequest(t)

	h.clock.Advance(time.Millisecond)
	if second := h.page.next(t); second.Topic != envelope.TopicCommandLoop {
		t.Fatalf("second request = %+v, want poll (no reply expected)", second)
	}

	entries := h.client.Logs().Entries()
	if len(entries) != 1 || entries[0].Message != "poll interval updated" || entries[0].Context["interval_ms"] != int64(500) {
		t.Fatalf("diagnostics = %+v", entries)
	}
}

func TestReplyEchoesTopicAndID(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"X","id":7,"payload":"anything","should_respond":true}`,
	)

	h.page.next(t)
	reply := h.page.next(t)
	if reply.Topic != "X" || reply.ID != 7 {
		t.Fatalf("reply = %+v, want topic X id 7", reply)
	}
	if !envelope.IsNull(reply.Payload) {
		t.Fatalf("reply payload = %s, want null for unrecognized topic", reply.Payload)
	}
	if wait := h.settle(t); wait != 50*time.Millisecond {
		t.Fatalf("next poll scheduled after %v, want 50ms", wait)
	}
}

func TestNoReplyWhenNotRequested(t *testing.T) {
	var calls int
	reg := registry.New()
	reg.MustRegister("console_log", func(context.Context, json.RawMessage) (any, error) {
		calls++
		return "logged", nil
	})
	h := startLoop(t, reg,
		`{"topic":"console_log","id":9,"payload":"hi","should_respond":false}`,
	)

	h.page.next(t)
	h.settle(t)
	h.page.assertNoRequest(t)
	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
}

func TestRegisteredHandlerResultIsReplied(t *testing.T) {
	reg := registry.New()
	reg.MustRegister(envelope.TopicGetInputData, func(_ context.Context, payload json.RawMessage) (any, error) {
		var args struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, err
		}
		return "value of " + args.ID, nil
	})
	h := startLoop(t, reg,
		`{"topic":"get_input_data","id":42,"payload":{"id":"name_field"},"should_respond":true}`,
	)

	h.page.next(t)
	reply := h.page.next(t)
	if reply.Topic != envelope.TopicGetInputData || reply.ID != 42 || string(reply.Payload) != `"value of name_field"` {
		t.Fatalf("reply = %+v (%s)", reply, reply.Payload)
	}
}

func TestUnknownTopicHasNoSideEffect(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"from_the_future","id":3,"payload":{"x":1},"should_respond":false}`,
	)

	h.page.next(t)
	h.settle(t)
	h.page.assertNoRequest(t)
	if got := h.client.UpdateInterval(); got != 50 {
		t.Fatalf("UpdateInterval() = %v, want unchanged 50", got)
	}
	if entries := h.client.Logs().Entries(); len(entries) != 0 {
		t.Fatalf("diagnostics = %+v, want none", entries)
	}
}

func TestJavascriptIsRefused(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"javascript","id":11,"payload":"document.title","should_respond":true}`,
	)

	h.page.next(t)
	reply := h.page.next(t)
	if reply.Topic != envelope.TopicJavascript || reply.ID != 11 || !envelope.IsNull(reply.Payload) {
		t.Fatalf("reply = %+v (%s), want null javascript reply", reply, reply.Payload)
	}

	h.settle(t)
	logs := h.client.Logs()
	if logs.Count(standard.LevelWarn) != 1 {
		t.Fatalf("warn count = %d, want 1", logs.Count(standard.LevelWarn))
	}
	entry := logs.Entries()[0]
	if entry.Context["step"] != stepDispatch || !strings.Contains(entry.Context["error"].(string), ErrScriptRefused.Error()) {
		t.Fatalf("diagnostic = %+v", entry)
	}
}

func TestFailedFirstPollStillReschedules(t *testing.T) {
	h := startLoop(t, nil, "!500", "!garbage")

	h.page.next(t)
	if wait := h.settle(t); wait != 50*time.Millisecond {
		t.Fatalf("after failure, next poll scheduled after %v, want 50ms", wait)
	}
	h.clock.Advance(50 * time.Millisecond)

	h.page.next(t)
	h.settle(t)
	h.clock.Advance(50 * time.Millisecond)

	if third := h.page.next(t); third.Topic != envelope.TopicCommandLoop {
		t.Fatalf("third request = %+v", third)
	}
	h.settle(t)

	logs := h.client.Logs()
	if logs.Count(standard.LevelError) != 2 {
		t.Fatalf("error count = %d, want 2: %+v", logs.Count(standard.LevelError), logs.Entries())
	}
	for _, entry := range logs.Entries() {
		if entry.Context["step"] != stepPoll {
			t.Fatalf("diagnostic step = %v, want poll", entry.Context["step"])
		}
	}
	if got := h.client.Cycles(); got != 3 {
		t.Fatalf("Cycles() = %d, want 3", got)
	}
	if got := h.client.Failures(); got != 2 {
		t.Fatalf("Failures() = %d, want 2", got)
	}
}

func TestInvalidIntervalKeepsPrevious(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"update_interval","id":-1,"payload":"fast","should_respond":false}`,
	)

	h.page.next(t)
	if wait := h.settle(t); wait != 50*time.Millisecond {
		t.Fatalf("next poll scheduled after %v, want 50ms", wait)
	}
	entries := h.client.Logs().Entries()
	if len(entries) != 1 || !strings.Contains(entries[0].Context["error"].(string), update.ErrInvalidInterval.Error()) {
		t.Fatalf("diagnostics = %+v", entries)
	}
}

func TestOversizedIntervalKeepsPrevious(t *testing.T) {
	h := startLoop(t, nil,
		`{"topic":"update_interval","id":-1,"payload":9300000000000,"should_respond":false}`,
	)

	h.page.next(t)
	if wait := h.settle(t); wait != 50*time.Millisecond {
		t.Fatalf("next poll scheduled after %v, want 50ms", wait)
	}
	if got := h.client.UpdateInterval(); got != 50 {
		t.Fatalf("UpdateInterval() = %v, want 50", got)
	}
	h.page.assertNoRequest(t)

	entries := h.client.Logs().Entries()
	if len(entries) != 1 || !strings.Contains(entries[0].Context["error"].(string), update.ErrInvalidInterval.Error()) {
		t.Fatalf("diagnostics = %+v", entries)
	}
}

func TestReplyFailureIsReported(t *testing.T) {
	var once sync.Once
	fake := clock.Fake(epoch)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope.Envelope
		json.NewDecoder(r.Body).Decode(&env)
		if env.Topic == envelope.TopicCommandLoop {
			answer := nothing
			once.Do(func() { answer = `{"topic":"X","id":5,"payload":null,"should_respond":true}` })
			io.WriteString(w, answer)
			return
		}
		http.Error(w, "no such request", http.StatusNotFound)
	}))
	defer server.Close()

	client, err := New(Config{PageURL: server.URL, HTTPClient: server.Client(), Clock: fake, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = client.cycle(context.Background())
	if err == nil {
		t.Fatal("cycle returned nil, want reply error")
	}
	entries := client.Logs().Entries()
	if len(entries) != 1 || entries[0].Context["step"] != stepReply || entries[0].Context["topic"] != "X" {
		t.Fatalf("diagnostics = %+v", entries)
	}
}

func TestRunSingleInstance(t *testing.T) {
	h := startLoop(t, nil)
	h.page.next(t)
	h.settle(t)

	if err := h.client.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run error = %v, want ErrAlreadyRunning", err)
	}
	if err := h.client.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start while running error = %v, want ErrAlreadyRunning", err)
	}

	h.cancel()
	select {
	case <-h.done:
		if !errors.Is(h.err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", h.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
