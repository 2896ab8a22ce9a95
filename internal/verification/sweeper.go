package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"

	"github.com/courierclub/courier/internal/sched"
	"github.com/courierclub/courier/pkg/event"
)

// DefaultSweepInterval is how often pending proposals are checked against
// their TTL.
const DefaultSweepInterval = time.Minute

// Sweeper expires pending proposals whose TTL elapsed without a customer
// decision, keeping invariant "at most one live question per order" honest
// over time.
type Sweeper struct {
	logger    apt.Logger
	proposals ProposalRepo
	publisher events.Publisher
	interval  time.Duration
	task      *sched.Task
}

func NewSweeper(proposals ProposalRepo, publisher events.Publisher, interval time.Duration, logger apt.Logger) *Sweeper {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:    logger,
		proposals: proposals,
		publisher: publisher,
		interval:  interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s.proposals == nil {
		return fmt.Errorf("verification sweeper not configured")
	}
	s.logger.Info("starting verification sweeper", "interval", s.interval.String())
	s.task = sched.Every(s.interval, s.sweep)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.task != nil {
		s.task.Stop()
	}
	return nil
}

// Sweep runs one pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now()

	stale, err := s.proposals.ListPendingExpiredBefore(ctx, now)
	if err != nil {
		s.logger.Error("cannot list expired proposals", "error", err)
		return
	}

	for _, p := range stale {
		if err := p.Expire(); err != nil {
			// Lost a race with a concurrent decision; the terminal state wins.
			continue
		}
		if err := s.proposals.SaveFromPending(ctx, p); err != nil {
			if errors.Is(err, ErrNotPending) {
				// Decided between the list and the write; nothing to expire.
				continue
			}
			s.logger.Error("cannot expire proposal", "error", err, "proposal_id", p.ID.String())
			continue
		}
		s.logger.Info("proposal expired by TTL", "proposal_id", p.ID.String(), "order_id", p.OrderID.String())
		s.publishExpired(ctx, p)
	}
}

func (s *Sweeper) publishExpired(ctx context.Context, p *Proposal) {
	if s.publisher == nil {
		return
	}

	evt := event.ProposalSubmittedEvent{
		EventType:  event.EventProposalSuperseded,
		OccurredAt: time.Now(),
		ProposalID: p.ID.String(),
		OrderID:    p.OrderID.String(),
		OrderKind:  string(p.OrderKind),
		CustomerID: p.CustomerID.String(),
		RiderID:    p.RiderID.String(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.VerificationsTopic, payload); err != nil {
		s.logger.Info("cannot publish proposal expiry", "error", err, "proposal_id", p.ID.String())
	}
}
