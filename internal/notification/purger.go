package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"

	"github.com/courierclub/courier/internal/sched"
)

// DefaultPurgeInterval bounds how stale an expired envelope can linger in
// storage. Expired entries are already invisible to reads; the purge keeps
// the collections from growing without bound.
const DefaultPurgeInterval = 15 * time.Minute

// Purger deletes expired envelopes from both mailboxes on an interval.
type Purger struct {
	logger    apt.Logger
	customers Repo
	riders    RiderRepo
	interval  time.Duration
	task      *sched.Task
}

func NewPurger(customers Repo, riders RiderRepo, interval time.Duration, logger apt.Logger) *Purger {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	return &Purger{
		logger:    logger,
		customers: customers,
		riders:    riders,
		interval:  interval,
	}
}

func (p *Purger) Start(ctx context.Context) error {
	if p.customers == nil || p.riders == nil {
		return fmt.Errorf("notification purger not configured")
	}
	p.logger.Info("starting notification purger", "interval", p.interval.String())
	p.task = sched.Every(p.interval, p.purge)
	return nil
}

func (p *Purger) Stop(ctx context.Context) error {
	if p.task != nil {
		p.task.Stop()
	}
	return nil
}

// Purge runs one sweep immediately. The scheduled loop calls this; tests
// and seeding call it directly.
func (p *Purger) Purge(ctx context.Context) {
	p.purge(ctx)
}

func (p *Purger) purge(ctx context.Context) {
	now := time.Now()

	deleted, err := p.customers.DeleteExpiredBefore(ctx, now)
	if err != nil {
		p.logger.Error("cannot purge customer notifications", "error", err)
	} else if deleted > 0 {
		p.logger.Info("purged expired customer notifications", "deleted", deleted)
	}

	deleted, err = p.riders.DeleteExpiredBefore(ctx, now)
	if err != nil {
		p.logger.Error("cannot purge rider notifications", "error", err)
	} else if deleted > 0 {
		p.logger.Info("purged expired rider notifications", "deleted", deleted)
	}
}
