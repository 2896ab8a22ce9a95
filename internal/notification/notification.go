// Package notification implements the two directional mailboxes of the
// platform: short-lived, TTL-bound delivery envelopes addressed to a
// customer or to a rider. Envelopes reference proposals, they never carry
// authoritative order state themselves.
package notification

import (
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

// Customer-facing notification types.
type Type string

const (
	TypePriceChange     Type = "price_change"
	TypeOrderUpdate     Type = "order_update"
	TypeAdminCorrection Type = "admin_correction"
)

// Rider-facing notification types.
type RiderType string

const (
	RiderTypeVerificationApproved RiderType = "verification_approved"
	RiderTypeVerificationRejected RiderType = "verification_rejected"
	RiderTypeOrderAssigned        RiderType = "order_assigned"
)

type ActionType string

const (
	ActionApproveChanges ActionType = "approve_changes"
	ActionViewOrder      ActionType = "view_order"
	ActionNone           ActionType = "none"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	// DefaultTTL bounds how long an envelope may be surfaced.
	DefaultTTL = 24 * time.Hour
	// CorrectionTTL gives administrative corrections a longer window.
	CorrectionTTL = 48 * time.Hour
)

// Notification is a customer-facing envelope.
type Notification struct {
	ID         uuid.UUID `bson:"_id" json:"id"`
	CustomerID uuid.UUID `bson:"customer_id" json:"customer_id"`

	Title   string                 `bson:"title" json:"title"`
	Message string                 `bson:"message" json:"message"`
	Type    Type                   `bson:"type" json:"type"`
	Data    map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`

	Read   bool       `bson:"read" json:"read"`
	ReadAt *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`

	ActionRequired bool       `bson:"action_required" json:"action_required"`
	ActionType     ActionType `bson:"action_type" json:"action_type"`
	Priority       Priority   `bson:"priority" json:"priority"`

	RelatedOrderID uuid.UUID `bson:"related_order_id" json:"related_order_id"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt      time.Time `bson:"expires_at" json:"expires_at"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

func (n *Notification) GetID() uuid.UUID {
	return n.ID
}

func (n *Notification) ResourceType() string {
	return "notification"
}

func (n *Notification) EnsureID() {
	if n.ID == uuid.Nil {
		n.ID = apt.GenerateNewID()
	}
}

func (n *Notification) BeforeCreate() {
	n.EnsureID()
	n.CreatedAt = time.Now()
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(DefaultTTL)
	}
}

// MarkRead is idempotent: a read envelope never reverts and ReadAt is set
// exactly once.
func (n *Notification) MarkRead() {
	if n.Read {
		return
	}
	now := time.Now()
	n.Read = true
	n.ReadAt = &now
}

func (n *Notification) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// RiderNotification is a rider-facing envelope. Same shape, independent
// mailbox and type enum.
type RiderNotification struct {
	ID      uuid.UUID `bson:"_id" json:"id"`
	RiderID uuid.UUID `bson:"rider_id" json:"rider_id"`

	Title   string                 `bson:"title" json:"title"`
	Message string                 `bson:"message" json:"message"`
	Type    RiderType              `bson:"type" json:"type"`
	Data    map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`

	Read   bool       `bson:"read" json:"read"`
	ReadAt *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`

	ActionRequired bool       `bson:"action_required" json:"action_required"`
	ActionType     ActionType `bson:"action_type" json:"action_type"`
	Priority       Priority   `bson:"priority" json:"priority"`

	RelatedOrderID uuid.UUID `bson:"related_order_id" json:"related_order_id"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt      time.Time `bson:"expires_at" json:"expires_at"`

	ModelVersion int `bson:"model_version" json:"model_version"`
}

func (n *RiderNotification) GetID() uuid.UUID {
	return n.ID
}

func (n *RiderNotification) ResourceType() string {
	return "rider-notification"
}

func (n *RiderNotification) EnsureID() {
	if n.ID == uuid.Nil {
		n.ID = apt.GenerateNewID()
	}
}

func (n *RiderNotification) BeforeCreate() {
	n.EnsureID()
	n.CreatedAt = time.Now()
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(DefaultTTL)
	}
}

func (n *RiderNotification) MarkRead() {
	if n.Read {
		return
	}
	now := time.Now()
	n.Read = true
	n.ReadAt = &now
}

func (n *RiderNotification) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}

// DerivePriority maps a price change onto envelope priority: increases
// demand attention, decreases carry no financial risk.
func DerivePriority(priceDelta float64) Priority {
	if priceDelta > 0 {
		return PriorityHigh
	}
	return PriorityMedium
}

// DeriveExpiry computes the TTL deadline for a change notification.
func DeriveExpiry(now time.Time, adminCorrection bool) time.Time {
	if adminCorrection {
		return now.Add(CorrectionTTL)
	}
	return now.Add(DefaultTTL)
}

// NewPriceChange builds the single customer envelope emitted for a new
// change proposal. It always requires an explicit approval action.
func NewPriceChange(customerID, orderID, proposalID uuid.UUID, priceDelta float64, adminCorrection bool) *Notification {
	now := time.Now()

	notificationType := TypePriceChange
	title := "Order change needs your approval"
	message := "Your rider proposed changes to your order. Review and approve or reject them."
	if adminCorrection {
		notificationType = TypeAdminCorrection
		title = "Order correction needs your approval"
	}

	n := &Notification{
		CustomerID: customerID,
		Title:      title,
		Message:    message,
		Type:       notificationType,
		Data: map[string]interface{}{
			"verification_id": proposalID.String(),
			"price_change":    priceDelta,
		},
		ActionRequired: true,
		ActionType:     ActionApproveChanges,
		Priority:       DerivePriority(priceDelta),
		RelatedOrderID: orderID,
		ExpiresAt:      DeriveExpiry(now, adminCorrection),
	}
	n.BeforeCreate()
	return n
}

// NewRiderOutcome builds the rider envelope for a customer decision.
func NewRiderOutcome(riderID, orderID, proposalID uuid.UUID, approved bool) *RiderNotification {
	notificationType := RiderTypeVerificationApproved
	title := "Order changes approved"
	message := "The customer approved your order changes. You can proceed."
	if !approved {
		notificationType = RiderTypeVerificationRejected
		title = "Order changes rejected"
		message = "The customer rejected your order changes. The order stays as originally placed."
	}

	n := &RiderNotification{
		RiderID: riderID,
		Title:   title,
		Message: message,
		Type:    notificationType,
		Data: map[string]interface{}{
			"verification_id": proposalID.String(),
			"approved":        approved,
		},
		ActionRequired: false,
		ActionType:     ActionViewOrder,
		Priority:       PriorityMedium,
		RelatedOrderID: orderID,
	}
	n.BeforeCreate()
	return n
}
