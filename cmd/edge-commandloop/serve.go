package main

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/st-keller/edge-commandloop/server"
	"github.com/st-keller/edge-commandloop/update"
)

var demoTemplate = template.Must(template.New("demo").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1 id="title">{{.Title}}</h1>
<p id="status">waiting for client</p>
<input id="name" placeholder="name">
<button id="greet_button">greet</button>
<button id="update_interval_button">interval</button>
</body>
</html>
`))

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a demo page and its command channel.",
	Long:  `Serves a demo page on --addr. Point "run" at it to watch the command loop: clicking update_interval_button (edge-commandloop notify update_interval_button) cycles the poll interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := cfg.logger()
		if err != nil {
			return err
		}

		srv := server.New(server.Options{
			Addr:           cfg.Addr,
			RequestLogging: cfg.RequestLogging,
			Logger:         logger,
		})
		page, err := srv.AddPage("/", demoTemplate, struct{ Title string }{"edge command loop"})
		if err != nil {
			return err
		}
		wireDemo(page, logger)

		ctx, stop := signalContext()
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

// intervalCycle steps through poll intervals on each click.
type intervalCycle struct {
	mu    sync.Mutex
	steps []update.Interval
	next  int
}

func (c *intervalCycle) advance() update.Interval {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.steps[c.next]
	c.next = (c.next + 1) % len(c.steps)
	return step
}

func wireDemo(page *server.Page, logger *slog.Logger) {
	intervals := &intervalCycle{steps: []update.Interval{75, 50, 25, 10, 100}}

	showInterval := func() {
		if err := page.SetButtonText("update_interval_button", page.UpdateInterval().String()); err != nil {
			logger.Error("set button text", "error", err)
		}
	}

	page.SetOnLoad(func() {
		showInterval()
		_ = page.SetText("status", "connected")
		_ = page.ConsoleLog("demo page loaded")
	})

	page.OnButtonClick("update_interval_button", func() {
		if err := page.SetUpdateInterval(intervals.advance()); err != nil {
			logger.Error("set update interval", "error", err)
			return
		}
		showInterval()
	})

	page.OnButtonClick("greet_button", func() {
		// Callbacks run inside the notifying request; waiting for a reply
		// there would hold that request open.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			name, err := page.GetInputData(ctx, "name")
			if err != nil {
				logger.Warn("read name input", "error", err)
				return
			}
			if name == "" {
				name = "stranger"
			}
			_ = page.SetText("status", fmt.Sprintf("hello, %s", name))
		}()
	})
}

func init() {
	serveCmd.Flags().String("addr", ":5000", "Listen address")
	serveCmd.Flags().Bool("request-log", false, "Log every HTTP request")
	rootCmd.AddCommand(serveCmd)
}
