package commandloop

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/standard"
	"github.com/st-keller/edge-commandloop/transport"
	"github.com/st-keller/edge-commandloop/update"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{PageURL: "http://localhost:5000/"}, false},
		{"https", Config{PageURL: "https://edge.example/page"}, false},
		{"missing url", Config{}, true},
		{"relative url", Config{PageURL: "/page"}, true},
		{"wrong scheme", Config{PageURL: "ws://localhost:5000/"}, true},
		{"negative interval", Config{PageURL: "http://localhost/", InitialInterval: -1}, true},
		{"interval overflows duration", Config{PageURL: "http://localhost/", InitialInterval: update.MaxInterval + 1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	client, err := New(Config{PageURL: "http://localhost:5000/", Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := client.UpdateInterval(); got != 50 {
		t.Fatalf("UpdateInterval() = %v, want default 50", got)
	}
	if client.Logs() == nil || client.Connectivity() == nil || client.Registry() == nil {
		t.Fatal("expected default logs, connectivity tracker and registry")
	}
}

func TestNewRejectsBadTLS(t *testing.T) {
	_, err := New(Config{
		PageURL: "https://localhost:5000/",
		TLS:     transport.TLSConfig{CertPath: "missing.cert.pem", KeyPath: "missing.key.pem", CAPath: "ca.cert.pem"},
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err == nil {
		t.Fatal("expected error for unreadable TLS material")
	}
}

func TestNotifyWireFormat(t *testing.T) {
	bodies := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies <- string(data)
		io.WriteString(w, nothing)
	}))
	defer server.Close()

	client, err := New(Config{PageURL: server.URL, HTTPClient: server.Client(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Notify(context.Background(), "btn1"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got, want := <-bodies, `{"topic":"onclick","id":-1,"payload":{"id":"btn1"}}`; got != want {
		t.Fatalf("body = %s, want %s", got, want)
	}
}

func TestNotifyFailureIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(Config{PageURL: server.URL, HTTPClient: server.Client(), Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Notify(context.Background(), "logo"); err == nil {
		t.Fatal("Notify returned nil for a 502 response")
	}
	entries := client.Logs().Entries()
	if len(entries) != 1 || entries[0].Level != standard.LevelError || entries[0].Context["source_id"] != "logo" {
		t.Fatalf("diagnostics = %+v", entries)
	}
}

// fakeExchanger answers every Send with the same command and records what
// it was sent, dropping records once the buffer is full.
type fakeExchanger struct {
	sent chan envelope.Envelope
}

func (f *fakeExchanger) Send(_ context.Context, env envelope.Envelope) (envelope.Command, error) {
	select {
	case f.sent <- env:
	default:
	}
	return envelope.Command{Envelope: envelope.Envelope{Topic: envelope.TopicNothing, ID: 1}}, nil
}

func (f *fakeExchanger) Fetch(_ context.Context, url string) (json.RawMessage, error) {
	if url == "bad" {
		return nil, errors.New("unreachable")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func TestStartStop(t *testing.T) {
	exchanger := &fakeExchanger{sent: make(chan envelope.Envelope, 64)}
	client, err := New(Config{
		PageURL:         "http://page.invalid/",
		InitialInterval: 1,
		Exchanger:       exchanger,
		Logger:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.Connectivity() != nil {
		t.Fatal("custom exchanger should not get the built-in connectivity tracker")
	}

	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := client.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case env := <-exchanger.sent:
			if env.Topic != envelope.TopicCommandLoop {
				t.Fatalf("sent %+v, want poll", env)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("poll loop did not poll")
		}
	}

	client.Stop()
	client.Stop()
	cycles := client.Cycles()
	time.Sleep(20 * time.Millisecond)
	if client.Cycles() != cycles {
		t.Fatal("loop kept cycling after Stop")
	}

	if err := client.Start(); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	client.Stop()
}

func TestFetchPassThrough(t *testing.T) {
	client, err := New(Config{
		PageURL:   "http://page.invalid/",
		Exchanger: &fakeExchanger{sent: make(chan envelope.Envelope, 1)},
		Logger:    slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := client.Fetch(context.Background(), "good")
	if err != nil || string(data) != `{"ok":true}` {
		t.Fatalf("Fetch = %s, %v", data, err)
	}
	if _, err := client.Fetch(context.Background(), "bad"); err == nil {
		t.Fatal("expected fetch error")
	}
	if client.Logs().Count(standard.LevelWarn) != 1 {
		t.Fatalf("warn count = %d, want 1", client.Logs().Count(standard.LevelWarn))
	}
}
