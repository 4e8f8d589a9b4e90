package commandloop

import (
	"context"
	"errors"
	"fmt"

	"github.com/st-keller/edge-commandloop/envelope"
	"github.com/st-keller/edge-commandloop/standard"
	"github.com/st-keller/edge-commandloop/update"
)

// ErrScriptRefused is reported for "javascript" commands. The client never
// executes code sent by the server; remote behavior must go through a
// registered handler.
var ErrScriptRefused = errors.New("refusing to execute server-supplied script")

// Cycle steps, as reported in diagnostics.
const (
	stepPoll     = "poll"
	stepDispatch = "dispatch"
	stepReply    = "reply"
)

// Run polls until ctx is cancelled and returns ctx.Err(). The first poll is
// issued immediately. Each later poll starts one interval after the previous
// cycle finished, using the interval as it stands after that cycle's
// dispatch.
//
// Failed cycles are reported to the diagnostics sink and the loop
// reschedules regardless, including when the very first poll fails.
//
// In-flight requests are not cancelled with ctx: a request that has been
// issued runs to completion, and Run returns once it has.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	requestCtx := context.WithoutCancel(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.cycle(requestCtx); err != nil {
			c.failures.Add(1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.interval.Get().Duration()):
		}
	}
}

// cycle runs one poll, dispatch and optional reply. The returned error is
// the first step failure; every failure has already been reported.
func (c *Client) cycle(ctx context.Context) error {
	n := c.cycles.Add(1)

	cmd, err := c.exchanger.Send(ctx, envelope.PollRequest())
	if err != nil {
		c.report(n, stepPoll, envelope.TopicCommandLoop, err)
		return err
	}

	result, dispatchErr := c.dispatch(ctx, cmd)
	if dispatchErr != nil {
		level := standard.LevelError
		if errors.Is(dispatchErr, ErrScriptRefused) {
			level = standard.LevelWarn
		}
		c.reportLevel(level, n, stepDispatch, cmd.Topic, dispatchErr)
	}

	if !cmd.ShouldRespond {
		return dispatchErr
	}

	reply, err := envelope.Reply(cmd, result)
	if err != nil {
		// The server is waiting on this id; answer with null rather than
		// leaving it blocked.
		c.report(n, stepReply, cmd.Topic, err)
		reply = envelope.Envelope{Topic: cmd.Topic, ID: cmd.ID}
	}
	if _, err := c.exchanger.Send(ctx, reply); err != nil {
		c.report(n, stepReply, cmd.Topic, err)
		return errors.Join(dispatchErr, err)
	}
	return dispatchErr
}

// dispatch interprets one command. Unknown topics are a no-op with an
// absent result.
func (c *Client) dispatch(ctx context.Context, cmd envelope.Command) (any, error) {
	switch cmd.Topic {
	case envelope.TopicUpdateInterval:
		next, err := update.Parse(cmd.Payload)
		if err != nil {
			return nil, err
		}
		if previous := c.interval.Set(next); previous != next {
			c.sink.Log(standard.LevelInfo, "poll interval updated", map[string]any{
				"previous_ms": int64(previous),
				"interval_ms": int64(next),
			})
		}
		return nil, nil

	case envelope.TopicJavascript:
		return nil, fmt.Errorf("%w (command id %d)", ErrScriptRefused, cmd.ID)
	}

	result, _, err := c.registry.Dispatch(ctx, cmd.Topic, cmd.Payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) report(n int64, step, topic string, err error) {
	c.reportLevel(standard.LevelError, n, step, topic, err)
}

func (c *Client) reportLevel(level standard.LogLevel, n int64, step, topic string, err error) {
	c.sink.Log(level, "poll cycle step failed", map[string]any{
		"cycle": n,
		"step":  step,
		"topic": topic,
		"error": err.Error(),
	})
}
