package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/agentrelay/internal/observability"
	"github.com/harun/agentrelay/internal/tracing"
	"github.com/harun/agentrelay/pkg/agent"
	"github.com/harun/agentrelay/pkg/fanout"
	"github.com/harun/agentrelay/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "agentrelay.runner"

// ErrClosed is returned by Trigger after Shutdown
var ErrClosed = errors.New("coordinator is shut down")

// Store is the durable storage the coordinator mirrors runs into
type Store interface {
	SetStatus(ctx context.Context, id, status string) error
	AppendRun(ctx context.Context, sessionID string, turns []session.Turn, pending int) error
}

// Publisher delivers run events to a session's subscribers
type Publisher interface {
	Publish(sessionID string, ev fanout.Event) int
}

// Config wires a Coordinator
type Config struct {
	Loop      agent.Loop
	Store     Store
	Publisher Publisher
	Logger    zerolog.Logger
}

// Coordinator runs the agent loop for sessions, at most one run per session
// at a time
type Coordinator struct {
	loop      agent.Loop
	store     Store
	publisher Publisher
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a coordinator
func New(cfg Config) *Coordinator {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		loop:      cfg.Loop,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Trigger starts a run for sess in the background if it is idle. It returns
// false when a run is already in progress; the caller's turn is then picked
// up by that run's follow-up.
func (c *Coordinator) Trigger(ctx context.Context, sess *session.Session) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrClosed
	}
	if !sess.TryStart() {
		return false, nil
	}

	runCtx := tracing.Detach(c.ctx, ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drive(runCtx, sess)
	}()
	return true, nil
}

// Shutdown stops accepting runs and waits for in-flight runs. When ctx ends
// first, in-flight runs are canceled and ctx's error is returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// Closed reports whether Shutdown has been called
func (c *Coordinator) Closed() bool {
	return c.isClosed()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drive runs sess until no unanswered turns remain. The session must already
// be marked running.
func (c *Coordinator) drive(ctx context.Context, sess *session.Session) {
	for {
		base := c.runOnce(ctx, sess)
		if sess.Deleted() || c.isClosed() || sess.Len() <= base {
			return
		}
		if !sess.TryStart() {
			return
		}
		c.logger.Debug().Str("session_id", sess.ID).Msg("Starting follow-up run for turns posted during the previous run")
	}
}

// runOnce performs one run and flips the session back to idle. It returns the
// history length the run accounted for; anything beyond it was posted while
// the run was in flight.
func (c *Coordinator) runOnce(parent context.Context, sess *session.Session) int {
	ctx := tracing.NewRunContext(parent, sess.ID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "runner.run",
		attribute.String("provider", sess.Options.Provider),
		attribute.String("model", sess.Options.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	provider := sess.Options.Provider

	c.setStatus(ctx, sess, session.StatusRunning)
	observability.RunStarted()
	start := time.Now()

	snapshot := sess.History()
	base := len(snapshot)

	logger.Info().Int("history_len", base).Msg("Agent run started")

	turns, err := c.invoke(ctx, sess, snapshot)
	if err == nil && len(turns) < base {
		err = fmt.Errorf("agent loop returned %d turns, fewer than the %d it was given", len(turns), base)
	}

	newTurns := 0
	if err == nil && !sess.Deleted() {
		added := turns[base:]
		err = sess.Commit(base, added, func(out []session.Turn, pending int) error {
			return c.persist(ctx, sess.ID, out, pending)
		})
		switch {
		case err == nil:
			newTurns = len(added)
			base += newTurns
			c.publish(sess, fanout.Done())
		case errors.Is(err, session.ErrNotFound):
			// deleted while the run was in flight
			err = nil
		}
	}

	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", duration).Msg("Agent run failed")
		c.publish(sess, fanout.Error(err.Error()))
	} else {
		logger.Info().Int("new_turns", newTurns).Dur("duration", duration).Msg("Agent run completed")
	}

	observability.RecordAgentRun(provider, duration, err == nil)
	status := "success"
	if err != nil {
		status = "failure"
	}
	observability.RecordRunAudit(ctx, sess.ID, status, map[string]interface{}{
		"run_id":    tracing.GetRunID(ctx),
		"provider":  provider,
		"new_turns": newTurns,
	})

	c.setStatus(ctx, sess, session.StatusIdle)
	sess.Finish()
	return base
}

func (c *Coordinator) invoke(ctx context.Context, sess *session.Session, history []session.Turn) (turns []session.Turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent loop panicked: %v", r)
		}
	}()

	req := agent.Request{
		SessionID: sess.ID,
		Options:   sess.Options,
		APIKey:    sess.APIKey(),
		History:   history,
	}
	cb := agent.Callbacks{
		OnBlock: func(block session.ContentBlock) {
			c.publish(sess, fanout.AssistantBlock(block))
		},
		OnToolResult: func(result agent.ToolResult, toolUseID string) {
			c.publish(sess, fanout.ToolResult(toolUseID, result.Output, result.Error, result.Base64Image))
		},
		OnExchange: func(ex agent.Exchange) {
			c.publish(sess, fanout.APIExchange(ex.StatusCode, ex.Err))
		},
	}
	return c.loop.Run(ctx, req, cb)
}

// persist writes a run's turns ahead of the pending user turns. It runs under
// the session lock, so it must not call back into the session.
func (c *Coordinator) persist(ctx context.Context, sessionID string, turns []session.Turn, pending int) error {
	if err := c.store.AppendRun(context.WithoutCancel(ctx), sessionID, turns, pending); err != nil {
		return fmt.Errorf("persist run output: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(sess *session.Session, ev fanout.Event) {
	if sess.Deleted() {
		return
	}
	c.publisher.Publish(sess.ID, ev)
}

func (c *Coordinator) setStatus(ctx context.Context, sess *session.Session, status string) {
	if sess.Deleted() {
		return
	}
	// a run canceled by Shutdown must still be mirrored as idle
	if err := c.store.SetStatus(context.WithoutCancel(ctx), sess.ID, status); err != nil {
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().Err(err).Str("status", status).Msg("Failed to mirror session status")
	}
}
