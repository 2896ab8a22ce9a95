package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/verification"
	"github.com/courierclub/courier/pkg/event"
)

// Subscriber feeds backend proposal lifecycle events into a registry so a
// connected device learns about new, superseded and decided verifications
// without polling. Events for other customers are ignored.
type Subscriber struct {
	registry   *Registry
	customerID uuid.UUID
}

func NewSubscriber(registry *Registry, customerID uuid.UUID) *Subscriber {
	return &Subscriber{registry: registry, customerID: customerID}
}

func (s *Subscriber) Start(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, event.VerificationsTopic, s.handle)
}

// Replay drains the durable event stream and applies every lifecycle event
// missed during a connectivity gap, in stream order, then refreshes once so
// entries submitted during the gap arrive with full item detail. Devices
// call it on startup, after Load and before Start.
func (s *Subscriber) Replay(ctx context.Context, stream events.StreamConsumer, limit int) error {
	messages, err := stream.Fetch(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch missed events: %w", err)
	}
	for _, msg := range messages {
		s.apply(ctx, msg.Data)
	}
	return s.registry.Refresh(ctx)
}

// apply handles one replayed event without refreshing; Replay does a single
// refresh at the end instead of one per message. Unparseable or foreign
// messages are skipped.
func (s *Subscriber) apply(ctx context.Context, msg []byte) {
	var meta event.ProposalEventMetadata
	if err := json.Unmarshal(msg, &meta); err != nil {
		return
	}

	switch meta.EventType {
	case event.EventProposalSubmitted:
		var ev event.ProposalSubmittedEvent
		if err := json.Unmarshal(msg, &ev); err != nil || ev.CustomerID != s.customerID.String() {
			return
		}
		if ev.SupersededID != "" {
			if id, err := uuid.Parse(ev.SupersededID); err == nil {
				s.registry.drop(ctx, id)
			}
		}
	case event.EventProposalSuperseded:
		_ = s.handleSuperseded(ctx, msg)
	case event.EventProposalDecided:
		_ = s.handleDecided(ctx, msg)
	}
}

func (s *Subscriber) handle(ctx context.Context, msg []byte) error {
	var meta event.ProposalEventMetadata
	if err := json.Unmarshal(msg, &meta); err != nil {
		return fmt.Errorf("failed to parse proposal event: %w", err)
	}

	switch meta.EventType {
	case event.EventProposalSubmitted:
		return s.handleSubmitted(ctx, msg)
	case event.EventProposalSuperseded:
		return s.handleSuperseded(ctx, msg)
	case event.EventProposalDecided:
		return s.handleDecided(ctx, msg)
	default:
		return nil
	}
}

func (s *Subscriber) handleSubmitted(ctx context.Context, msg []byte) error {
	var ev event.ProposalSubmittedEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("failed to parse submitted event: %w", err)
	}
	if ev.CustomerID != s.customerID.String() {
		return nil
	}

	if ev.SupersededID != "" {
		if id, err := uuid.Parse(ev.SupersededID); err == nil {
			s.registry.drop(ctx, id)
		}
	}

	// Item detail is not on the event. A refresh pulls the full entry;
	// until then the device at least knows a verification exists.
	if err := s.registry.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh after submission: %w", err)
	}
	return nil
}

func (s *Subscriber) handleSuperseded(ctx context.Context, msg []byte) error {
	var ev event.ProposalSubmittedEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("failed to parse superseded event: %w", err)
	}
	if ev.CustomerID != s.customerID.String() {
		return nil
	}
	id, err := uuid.Parse(ev.ProposalID)
	if err != nil {
		return fmt.Errorf("failed to parse proposal id: %w", err)
	}
	s.registry.drop(ctx, id)
	return nil
}

func (s *Subscriber) handleDecided(ctx context.Context, msg []byte) error {
	var ev event.ProposalDecidedEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return fmt.Errorf("failed to parse decided event: %w", err)
	}
	if ev.CustomerID != s.customerID.String() {
		return nil
	}
	id, err := uuid.Parse(ev.ProposalID)
	if err != nil {
		return fmt.Errorf("failed to parse proposal id: %w", err)
	}
	s.registry.applyRemoteDecision(ctx, id, ev.Approved)
	return nil
}

// drop removes an entry that is no longer decidable, marking it expired if
// still present so a concurrent reader sees a terminal status.
func (r *Registry) drop(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.Status == verification.StatusPending {
		e.Status = verification.StatusExpired
	}
	delete(r.entries, id)
	if err := r.persistLocked(ctx); err != nil {
		r.logger.Error("failed to persist dropped verification", "verification_id", id, "error", err)
	}
}
