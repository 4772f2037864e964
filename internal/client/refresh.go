package client

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// refreshFlight is one network refresh and everyone waiting on it. c.flight
// is nil when idle. The leader detaches the flight from c.flight before it
// publishes ok and closes done, so a caller arriving after that starts a new
// flight instead of reading an old answer.
type refreshFlight struct {
	done   chan struct{}
	ok     bool
	joined int
}

// Refresh asks the backend for a new access token. Concurrent callers share a
// single network call and all see its result. A waiter whose ctx ends stops
// waiting and gets false; the network call itself is not cancelled by any
// caller and is bounded by the refresh timeout instead.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	if f := c.flight; f != nil {
		f.joined++
		c.mu.Unlock()
		c.metrics.IncRefreshJoined()

		select {
		case <-f.done:
			return f.ok
		case <-ctx.Done():
			return false
		}
	}
	f := &refreshFlight{done: make(chan struct{})}
	c.flight = f
	c.mu.Unlock()

	ok := false
	defer func() {
		c.mu.Lock()
		c.flight = nil
		c.mu.Unlock()
		f.ok = ok
		close(f.done)
	}()

	ok = c.refreshOnce(ctx)
	return ok
}

func (c *Coordinator) refreshOnce(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.RefreshTimeout)
	defer cancel()

	tracer := otel.Tracer("session-coordinator")
	ctx, span := tracer.Start(ctx, "client.Refresh")
	defer span.End()

	gen := c.currentGeneration()
	resp, err := c.do(ctx, Request{Method: http.MethodPost, Path: c.cfg.Endpoints.Refresh})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh request failed")
		c.logger.Warn("refresh request failed", zap.Error(err))
		c.metrics.IncRefresh(false)
		return false
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if !resp.OK() {
		span.SetStatus(codes.Error, "refresh rejected")
		c.logger.Info("refresh rejected", zap.Int("status", resp.StatusCode))
		c.metrics.IncRefresh(false)
		return false
	}

	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.generation != gen {
		// Logged out while the call was outstanding; the jar may already
		// hold the new cookies.
		c.jar.Reset()
		span.SetStatus(codes.Error, "session cleared during refresh")
		c.logger.Info("discarding refresh, session was cleared meanwhile")
		c.metrics.IncRefresh(false)
		return false
	}
	// Some backends return the user with the new tokens; keep it if so.
	if user, found, err := decodeUser(resp.Body); err == nil && found {
		c.store.SetUser(user)
	}
	c.metrics.IncRefresh(true)
	return true
}

// waiting reports how many callers joined the current flight. Zero when idle.
func (c *Coordinator) waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flight == nil {
		return 0
	}
	return c.flight.joined
}
