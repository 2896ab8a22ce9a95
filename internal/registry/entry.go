package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/courierclub/courier/internal/verification"
)

// Entry is one pending verification as held by a customer device: the
// denormalized slice of a proposal a tab needs to render the dialog and
// decide offline. Entries arrive from the backend or from rider submissions
// and are persisted locally between sessions.
type Entry struct {
	ID        uuid.UUID              `json:"id"`
	OrderID   uuid.UUID              `json:"order_id"`
	OrderKind verification.OrderKind `json:"order_kind"`

	OriginalItems []verification.Item `json:"original_items"`
	UpdatedItems  []verification.Item `json:"updated_items"`

	RiderNotes string `json:"rider_notes,omitempty"`

	Status      verification.Status   `json:"status"`
	Priority    verification.Priority `json:"priority"`
	PriceChange float64               `json:"price_change"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidationError describes why a stored or received entry cannot be
// trusted. Malformed entries are skipped, never rendered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid verification entry: %s %s", e.Field, e.Reason)
}

// Validate checks an entry for structural damage. JSON leaves absent lists
// nil, so a nil UpdatedItems means the payload was truncated rather than an
// order with no items. OriginalItems may be nil only for quick pickups,
// which legitimately have no committed items yet.
func Validate(e *Entry) error {
	if e == nil {
		return &ValidationError{Field: "entry", Reason: "is nil"}
	}
	if e.ID == uuid.Nil {
		return &ValidationError{Field: "id", Reason: "is missing"}
	}
	if e.OrderID == uuid.Nil {
		return &ValidationError{Field: "order_id", Reason: "is missing"}
	}
	if e.UpdatedItems == nil {
		return &ValidationError{Field: "updated_items", Reason: "is missing"}
	}
	if e.OriginalItems == nil && e.OrderKind != verification.OrderKindQuickPickup {
		return &ValidationError{Field: "original_items", Reason: "is missing"}
	}
	for _, item := range append(append([]verification.Item{}, e.OriginalItems...), e.UpdatedItems...) {
		if item.Quantity < 0 {
			return &ValidationError{Field: "items", Reason: "has a negative quantity"}
		}
		if item.Price < 0 {
			return &ValidationError{Field: "items", Reason: "has a negative price"}
		}
	}
	if e.ExpiresAt.IsZero() {
		return &ValidationError{Field: "expires_at", Reason: "is missing"}
	}
	return nil
}

// Expired reports whether the entry has outlived its decision window.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// sortEntries orders entries for presentation: highest priority first,
// oldest first within the same priority.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority.Rank() != entries[j].Priority.Rank() {
			return entries[i].Priority.Rank() > entries[j].Priority.Rank()
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
