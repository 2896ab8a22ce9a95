package presenter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/courierclub/courier/internal/registry"
)

type State string

const (
	StateIdle    State = "idle"
	StateShowing State = "showing"
)

// Controller drives the verification dialog for one device. At most one
// dialog is ever visible: Show surfaces the highest priority pending
// verification, Skip cycles through the rest without deciding, and Decide
// applies the choice through the registry and advances. The controller never
// holds state the registry does not: closing and reopening always reflects
// whatever is pending now.
type Controller struct {
	logger   apt.Logger
	registry *registry.Registry

	mu      sync.Mutex
	state   State
	current *registry.Entry
}

func NewController(reg *registry.Registry, logger apt.Logger) *Controller {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Controller{
		logger:   logger,
		registry: reg,
		state:    StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the entry the dialog is showing, or nil when idle.
func (c *Controller) Current() *registry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Summary returns the item diff for the entry on screen.
func (c *Controller) Summary() Diff {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Diff{}
	}
	return DiffItems(c.current.OriginalItems, c.current.UpdatedItems)
}

// Show opens the dialog on the most urgent pending verification. If a
// dialog is already open it stays on its entry; there is never a second one.
// Returns the entry on screen, or nil when nothing is pending.
func (c *Controller) Show(now time.Time) *registry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateShowing && c.current != nil {
		return c.current
	}
	return c.advanceLocked(now)
}

// Skip moves the dialog to the next pending verification without deciding
// the current one, wrapping around at the end of the list.
func (c *Controller) Skip(now time.Time) *registry.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateShowing || c.current == nil {
		return c.current
	}

	pending := c.registry.Pending(now)
	if len(pending) == 0 {
		c.closeLocked()
		return nil
	}
	idx := 0
	for i, e := range pending {
		if e.ID == c.current.ID {
			idx = (i + 1) % len(pending)
			break
		}
	}
	c.current = pending[idx]
	return c.current
}

// Decide applies the customer's choice to the entry on screen and advances
// to the next pending verification, closing the dialog when none remain.
func (c *Controller) Decide(ctx context.Context, approved bool) (*registry.ProcessResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateShowing || c.current == nil {
		return nil, registry.ErrNotFound
	}

	result, err := c.registry.Process(ctx, c.current.ID, approved)
	if err != nil {
		if errors.Is(err, registry.ErrExpired) || errors.Is(err, registry.ErrNotFound) {
			// The entry slipped away underneath the dialog; move on.
			c.logger.Info("verification no longer decidable, advancing", "error", err)
			c.advanceLocked(time.Now())
		}
		return nil, err
	}

	c.advanceLocked(time.Now())
	return result, nil
}

// Close dismisses the dialog without deciding anything.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Controller) advanceLocked(now time.Time) *registry.Entry {
	next := c.registry.Next(now)
	if next == nil {
		c.closeLocked()
		return nil
	}
	c.state = StateShowing
	c.current = next
	return next
}

func (c *Controller) closeLocked() {
	c.state = StateIdle
	c.current = nil
}
