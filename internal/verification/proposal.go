package verification

import (
	"errors"
	"sort"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

type OrderKind string

const (
	OrderKindRegular     OrderKind = "regular"
	OrderKindQuickPickup OrderKind = "quick_pickup"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps priorities onto a sortable scale; unknown values sink below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// DefaultTTL is how long a proposal stays decidable before it expires on
// its own.
const DefaultTTL = 24 * time.Hour

// Item is one order line as the rider sees it.
type Item struct {
	Name     string  `json:"name" bson:"name"`
	Quantity int     `json:"quantity" bson:"quantity"`
	Price    float64 `json:"price" bson:"price"`
}

func (i Item) Total() float64 {
	return i.Price * float64(i.Quantity)
}

// ItemsTotal sums line totals.
func ItemsTotal(items []Item) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Total()
	}
	return total
}

var ErrAlreadyTerminal = errors.New("proposal already in a terminal state")

// Proposal is one proposed mid-fulfillment mutation of one order, awaiting
// the customer's explicit decision. The price delta is always derived from
// the item lists, never stored on its own.
type Proposal struct {
	ID         uuid.UUID `bson:"_id" json:"id"`
	OrderID    uuid.UUID `bson:"order_id" json:"order_id"`
	OrderKind  OrderKind `bson:"order_kind" json:"order_kind"`
	CustomerID uuid.UUID `bson:"customer_id" json:"customer_id"`

	OriginalItems []Item `bson:"original_items" json:"original_items"`
	UpdatedItems  []Item `bson:"updated_items" json:"updated_items"`

	RiderID    uuid.UUID `bson:"rider_id" json:"rider_id"`
	RiderNotes string    `bson:"rider_notes,omitempty" json:"rider_notes,omitempty"`

	Status   Status   `bson:"status" json:"status"`
	Priority Priority `bson:"priority" json:"priority"`

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
	DecidedAt *time.Time `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
	ExpiresAt time.Time  `bson:"expires_at" json:"expires_at"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

func (p *Proposal) GetID() uuid.UUID {
	return p.ID
}

func (p *Proposal) ResourceType() string {
	return "verification"
}

// NewProposal creates a pending proposal for an order change. Original items
// may be empty for quick-pickup orders, which have no committed total yet.
func NewProposal(orderID uuid.UUID, kind OrderKind, customerID, riderID uuid.UUID, original, updated []Item, notes string) *Proposal {
	if original == nil {
		original = []Item{}
	}
	if updated == nil {
		updated = []Item{}
	}

	p := &Proposal{
		ID:            apt.GenerateNewID(),
		OrderID:       orderID,
		OrderKind:     kind,
		CustomerID:    customerID,
		OriginalItems: original,
		UpdatedItems:  updated,
		RiderID:       riderID,
		RiderNotes:    notes,
		Status:        StatusPending,
	}
	p.Priority = DerivePriority(p.PriceDelta())
	p.BeforeCreate()
	p.ExpiresAt = p.CreatedAt.Add(DefaultTTL)
	return p
}

func (p *Proposal) EnsureID() {
	if p.ID == uuid.Nil {
		p.ID = apt.GenerateNewID()
	}
}

func (p *Proposal) BeforeCreate() {
	p.EnsureID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
}

func (p *Proposal) BeforeUpdate() {
	p.UpdatedAt = time.Now()
}

// OriginalTotal is the last committed total the customer agreed to. Quick
// pickups have none, so it is zero by construction.
func (p *Proposal) OriginalTotal() float64 {
	return ItemsTotal(p.OriginalItems)
}

func (p *Proposal) UpdatedTotal() float64 {
	return ItemsTotal(p.UpdatedItems)
}

// PriceDelta recomputes the price change from the item lists. For regular
// orders it is updated minus original; for quick pickups it is the absolute
// new total, since no prior total exists to diff against.
func (p *Proposal) PriceDelta() float64 {
	if p.OrderKind == OrderKindQuickPickup {
		return p.UpdatedTotal()
	}
	return p.UpdatedTotal() - p.OriginalTotal()
}

func (p *Proposal) IsTerminal() bool {
	return p.Status != StatusPending
}

// TimedOut reports whether a still-pending proposal has outlived its TTL.
func (p *Proposal) TimedOut(now time.Time) bool {
	return p.Status == StatusPending && now.After(p.ExpiresAt)
}

// Approve moves pending to approved. Transitions are monotonic: once a
// proposal is terminal it never changes again.
func (p *Proposal) Approve() error {
	return p.decide(StatusApproved)
}

// Reject moves pending to rejected.
func (p *Proposal) Reject() error {
	return p.decide(StatusRejected)
}

// Expire moves pending to expired, either by TTL or by supersession.
func (p *Proposal) Expire() error {
	if p.IsTerminal() {
		return ErrAlreadyTerminal
	}
	p.Status = StatusExpired
	p.BeforeUpdate()
	return nil
}

func (p *Proposal) decide(status Status) error {
	if p.IsTerminal() {
		return ErrAlreadyTerminal
	}
	now := time.Now()
	p.Status = status
	p.DecidedAt = &now
	p.BeforeUpdate()
	return nil
}

// DerivePriority maps a price change to a presentation priority: increases
// need the customer's attention before anything else, decreases carry no
// financial risk.
func DerivePriority(priceDelta float64) Priority {
	if priceDelta > 0 {
		return PriorityHigh
	}
	return PriorityMedium
}

// SortPending orders proposals the way they are surfaced: highest priority
// first, oldest first within the same priority.
func SortPending(proposals []*Proposal) {
	sort.SliceStable(proposals, func(i, j int) bool {
		if proposals[i].Priority.Rank() != proposals[j].Priority.Rank() {
			return proposals[i].Priority.Rank() > proposals[j].Priority.Rank()
		}
		return proposals[i].CreatedAt.Before(proposals[j].CreatedAt)
	})
}
