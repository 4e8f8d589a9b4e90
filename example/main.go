package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	commandloop "github.com/st-keller/edge-commandloop"
	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/registry"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Pages may only ask for what is registered here.
	commands := registry.New()
	commands.MustRegister(envelope.TopicConsoleLog, func(_ context.Context, payload json.RawMessage) (any, error) {
		logger.Info("page says", "text", string(payload))
		return nil, nil
	})
	commands.MustRegister("sensor_reading", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"sensor": "temp0", "celsius": 21.5}, nil
	})

	client, err := commandloop.New(commandloop.Config{
		PageURL:  "http://localhost:5000/",
		Registry: commands,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create command loop client", "error", err)
		os.Exit(1)
	}

	if err := client.Start(); err != nil {
		logger.Error("failed to start poll loop", "error", err)
		os.Exit(1)
	}
	defer client.Stop()

	// Tell the page a button was pressed.
	if err := client.Notify(context.Background(), "start_button"); err != nil {
		logger.Warn("notify failed", "error", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down", "cycles", client.Cycles(), "interval", client.UpdateInterval().String())
}
