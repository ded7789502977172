package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// refresher is the background goroutine that keeps the access token fresh.
// Its lifecycle follows the start-once / stop-and-wait shape: Start is
// idempotent, Close cancels the loop and waits for it to exit.
type refresher struct {
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// StartAutoRefresh begins checking the session every RefreshTick and
// refreshes it when it expires within three ticks.
func (c *Client) StartAutoRefresh() {
	c.refresher.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.refresher.cancel = cancel

		c.logger.Debug("starting session auto-refresh", slog.Duration("tick", c.tick))
		c.refresher.wg.Add(1)
		go c.autoRefresh(ctx)
	})
}

// Close stops the auto-refresher, if running, and waits for it.
func (c *Client) Close() {
	c.refresher.stopOnce.Do(func() {
		if c.refresher.cancel != nil {
			c.refresher.cancel()
		}
	})
	c.refresher.wg.Wait()
}

func (c *Client) autoRefresh(ctx context.Context) {
	defer c.refresher.wg.Done()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshIfDue(ctx)
		}
	}
}

// refreshIfDue refreshes the current session when it is close to expiry.
// Failures are logged; a 4xx has already signed the session out.
func (c *Client) refreshIfDue(ctx context.Context) {
	session := c.currentSession()
	if session == nil {
		return
	}
	if !session.ExpiresWithin(c.now(), refreshTicksAhead*c.tick) {
		return
	}

	if _, err := c.refresh(ctx, session); err != nil && ctx.Err() == nil {
		c.logger.Warn("session auto-refresh failed", slog.String("error", err.Error()))
	}
}
