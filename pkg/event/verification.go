package event

import "time"

const (
	// VerificationsTopic carries proposal lifecycle events between the
	// backend, the rider surface and customer registries.
	VerificationsTopic = "courier.verifications"

	// TabDecisionsTopic carries customer decisions between sibling tabs of
	// the same device so an approval in one tab is reflected in the others
	// without a network round trip.
	TabDecisionsTopic = "courier.tabs.decisions"

	// LogoutTopic signals that stored credentials were invalidated (401).
	LogoutTopic = "courier.session.logout"

	EventProposalSubmitted  = "verification.proposal.submitted"
	EventProposalSuperseded = "verification.proposal.superseded"
	EventProposalDecided    = "verification.proposal.decided"
)

// ProposalEventMetadata is the minimal shape subscribers parse first to
// route an event by type.
type ProposalEventMetadata struct {
	EventType string `json:"event_type"`
}

// ProposalSubmittedEvent is published when a rider submits an order change.
// SupersededID carries the id of the previously pending proposal for the
// same order, when one existed.
type ProposalSubmittedEvent struct {
	EventType    string    `json:"event_type"`
	OccurredAt   time.Time `json:"occurred_at"`
	ProposalID   string    `json:"proposal_id"`
	OrderID      string    `json:"order_id"`
	OrderKind    string    `json:"order_kind"`
	CustomerID   string    `json:"customer_id"`
	RiderID      string    `json:"rider_id"`
	PriceChange  float64   `json:"price_change"`
	Priority     string    `json:"priority"`
	ExpiresAt    time.Time `json:"expires_at"`
	SupersededID string    `json:"superseded_id,omitempty"`
}

// ProposalDecidedEvent is published when the customer decision is applied
// to the system of record.
type ProposalDecidedEvent struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	ProposalID string    `json:"proposal_id"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	RiderID    string    `json:"rider_id"`
	Approved   bool      `json:"approved"`
}

// TabDecisionEvent is the cross-tab broadcast payload. TabID identifies the
// originating tab so it can ignore its own echo.
type TabDecisionEvent struct {
	TabID          string `json:"tab_id"`
	VerificationID string `json:"verification_id"`
	Approved       bool   `json:"approved"`
}
