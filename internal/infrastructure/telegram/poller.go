package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"TubeDigest/internal/domain"
)

// pollRetryDelay spaces out getUpdates retries after a transport failure.
const pollRetryDelay = 3 * time.Second

// Poller drives the long-poll loop and hands every text message to the
// handler. It owns the update offset; the handler must not block.
type Poller struct {
	client     *Client
	handler    func(context.Context, domain.InboundMessage)
	timeoutSec int
	logger     *slog.Logger
}

func NewPoller(client *Client, handler func(context.Context, domain.InboundMessage), timeoutSec int, logger *slog.Logger) *Poller {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &Poller{
		client:     client,
		handler:    handler,
		timeoutSec: timeoutSec,
		logger:     logger.With("component", "telegram"),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	p.logger.Info("polling for updates", "timeout_sec", p.timeoutSec)

	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeoutSec)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			p.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			if u.HasText {
				p.handler(ctx, u.Message)
			}
		}
	}
}
