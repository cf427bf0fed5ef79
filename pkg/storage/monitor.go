package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Run checks the connection every MonitorInterval until ctx is done. A failed
// check is logged and marks the gateway unhealthy; it never ends the loop and
// never stops the process. Run always returns nil, which lets it sit in an
// errgroup next to the HTTP server.
func (g *Gateway) Run(ctx context.Context) error {
	interval := g.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check pings the connection once and updates Healthy. It logs transitions.
// A connection database/sql has discarded is replaced before the ping, so a
// recovered database flips the gateway back to healthy.
func (g *Gateway) Check(ctx context.Context) bool {
	err := g.ping(ctx)
	was := g.healthy.Swap(err == nil)

	switch {
	case err != nil && was:
		g.log.ErrorContext(ctx, "storage connection lost", logger.Error(err))
	case err != nil:
		g.log.WarnContext(ctx, "storage connection still down", logger.Error(err))
	case !was:
		g.log.InfoContext(ctx, "storage connection recovered")
	}
	return err == nil
}

// Healthy reports the result of the last check.
func (g *Gateway) Healthy() bool {
	return g.healthy.Load()
}

// Healthcheck returns a closure for readiness probes.
func (g *Gateway) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if err := g.ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

func (g *Gateway) ping(ctx context.Context) error {
	if err := g.lock(); err != nil {
		return err
	}
	defer g.mu.Unlock()

	if g.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ConnectTimeout)
		defer cancel()
	}

	err := g.conn.PingContext(ctx)
	if !isConnGone(err) {
		return err
	}
	if rerr := g.reacquire(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return g.conn.PingContext(ctx)
}
