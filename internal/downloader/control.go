package downloader

import (
	"context"
	"sync"
)

// Control is the pause gate shared by the engine and one running item.
// A nil *Control is never paused.
type Control struct {
	mu     sync.Mutex
	resume chan struct{} // non-nil while paused
}

func NewControl() *Control {
	return &Control{}
}

// Pause reports false when already paused.
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume != nil {
		return false
	}
	c.resume = make(chan struct{})
	return true
}

// Resume releases every waiter. It reports false when not paused.
func (c *Control) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resume == nil {
		return false
	}
	close(c.resume)
	c.resume = nil
	return true
}

func (c *Control) Paused() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resume != nil
}

// Wait blocks while paused. It returns ctx.Err() once ctx is done, paused or not.
func (c *Control) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c == nil {
			return nil
		}
		c.mu.Lock()
		ch := c.resume
		c.mu.Unlock()
		if ch == nil {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
