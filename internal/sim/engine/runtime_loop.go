package engine

import (
	"context"
	"errors"
	"time"
)

var ErrStopped = errors.New("engine stopped")

// Run owns the engine: every mutation submitted through Do or Submit runs on
// this goroutine between ticks.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case fn := <-e.reqs:
			fn(e)
		case <-ticker.C:
			e.AdvanceTick()
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// Submit queues fn without waiting. It reports false when the queue is full.
func (e *Engine) Submit(fn func(*Engine)) bool {
	select {
	case e.reqs <- fn:
		return true
	default:
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it.
func (e *Engine) Do(ctx context.Context, fn func(*Engine) error) error {
	done := make(chan error, 1)
	req := func(e *Engine) { done <- fn(e) }
	select {
	case e.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stop:
		return ErrStopped
	}
}
