package conversation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chat-client/internal/reconcile"
)

// startPollerLocked starts periodic history loads for gen. Polling only runs
// while the channel is degraded; each tick waits for its own request, so
// loads never overlap.
func (c *Controller) startPollerLocked(gen uint64) {
	if c.pollCancel != nil || c.convCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.convCtx)
	c.pollCancel = cancel
	go c.poll(ctx, gen)
	c.logger.Info("polling started", zap.Int64("friend_id", c.friendID), zap.Duration("interval", c.opts.PollInterval))
}

func (c *Controller) stopPollerLocked() {
	if c.pollCancel == nil {
		return
	}
	c.pollCancel()
	c.pollCancel = nil
	c.logger.Info("polling stopped", zap.Int64("friend_id", c.friendID))
}

func (c *Controller) poll(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		err := c.refresh(reqCtx, gen, reconcile.SourcePoll)
		cancel()
		switch {
		case err == nil:
		case errors.Is(err, reconcile.ErrStale) || ctx.Err() != nil:
			if !c.engine.IsCurrent(gen) {
				return
			}
		default:
			c.logger.Warn("poll failed", zap.Error(err))
		}
	}
}
