package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// ProgressChannel forwards pipeline progress to the transport without
// flooding it: non-terminal updates edit the request's status message in
// place, repeats of the same text are suppressed, and updates inside the
// throttle window are dropped (they are advisory only). Terminal events are
// always delivered as a fresh message.
type ProgressChannel struct {
	transport   ports.Transport
	minInterval time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	states map[string]*progressState
}

// progressState is the per-request delivery bookkeeping: the handle of the
// last delivered status message plus what and when we last sent.
type progressState struct {
	mu           sync.Mutex
	handle       domain.MessageHandle
	hasHandle    bool
	lastText     string
	lastDelivery time.Time
}

// NewProgressChannel builds the coalescing forwarder. minInterval <= 0
// disables throttling.
func NewProgressChannel(transport ports.Transport, minInterval time.Duration, logger *slog.Logger) *ProgressChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressChannel{
		transport:   transport,
		minInterval: minInterval,
		logger:      logger,
		states:      map[string]*progressState{},
	}
}

// Publish delivers one event for its request. Events for a single request
// must arrive in stage order; this is guaranteed by the single goroutine
// driving each pipeline run.
func (c *ProgressChannel) Publish(ctx context.Context, ev domain.ProgressEvent) {
	if ev.Terminal {
		c.publishTerminal(ctx, ev)
		return
	}

	st := c.state(ev.RequestID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if ev.Message == st.lastText {
		return
	}
	if st.hasHandle && c.minInterval > 0 && time.Since(st.lastDelivery) < c.minInterval {
		return
	}

	if !st.hasHandle {
		handle, err := c.transport.SendMessage(ctx, ev.UserID, ev.Message)
		if err != nil {
			c.logger.Warn("progress message not sent", "request_id", ev.RequestID, "error", err)
			return
		}
		st.handle = handle
		st.hasHandle = true
	} else if err := c.transport.EditMessage(ctx, st.handle, ev.Message); err != nil {
		// The edited message may have been deleted by the user; start a
		// fresh status line rather than losing updates.
		c.logger.Warn("progress edit failed, sending fresh message", "request_id", ev.RequestID, "error", err)
		handle, sendErr := c.transport.SendMessage(ctx, ev.UserID, ev.Message)
		if sendErr != nil {
			c.logger.Warn("progress message not sent", "request_id", ev.RequestID, "error", sendErr)
			return
		}
		st.handle = handle
	}

	st.lastText = ev.Message
	st.lastDelivery = time.Now()
}

// publishTerminal sends the final line as its own message so the outcome is
// never merged into a transient status edit, then forgets the request.
func (c *ProgressChannel) publishTerminal(ctx context.Context, ev domain.ProgressEvent) {
	if _, err := c.transport.SendMessage(ctx, ev.UserID, ev.Message); err != nil {
		c.logger.Error("terminal progress message not sent", "request_id", ev.RequestID, "error", err)
	}
	c.Forget(ev.RequestID)
}

// Forget drops the delivery state for a request once it has completed.
func (c *ProgressChannel) Forget(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, requestID)
}

func (c *ProgressChannel) state(requestID string) *progressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[requestID]
	if !ok {
		st = &progressState{}
		c.states[requestID] = st
	}
	return st
}
