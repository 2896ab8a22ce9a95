package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotPending reports a conditional save that found the stored
	// proposal already out of the pending state.
	ErrNotPending = errors.New("proposal is not pending")
	// ErrDuplicatePending reports an insert that would leave two pending
	// proposals for one order.
	ErrDuplicatePending = errors.New("order already has a pending proposal")
)

type ProposalRepo interface {
	// Create inserts a new proposal. It fails with ErrDuplicatePending when
	// the order already has a pending proposal.
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id uuid.UUID) (*Proposal, error)
	// PendingByOrder returns the single pending proposal for an order, or
	// nil when none exists. At most one may be pending per order.
	PendingByOrder(ctx context.Context, orderID uuid.UUID) (*Proposal, error)
	ListPendingByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Proposal, error)
	// ListPendingExpiredBefore returns pending proposals whose TTL elapsed
	// before t, for the expiry sweep.
	ListPendingExpiredBefore(ctx context.Context, t time.Time) ([]*Proposal, error)
	// SaveFromPending persists p only if the stored proposal is still
	// pending, so the pending-to-terminal transition happens exactly once.
	// A writer that lost the race gets ErrNotPending and must take no side
	// effects.
	SaveFromPending(ctx context.Context, p *Proposal) error
}
