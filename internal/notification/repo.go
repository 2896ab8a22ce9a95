package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repo is the customer mailbox. List and count exclude entries whose TTL
// elapsed; DeleteExpiredBefore enforces the storage half of expiry.
type Repo interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, includeRead bool, now time.Time) ([]*Notification, error)
	CountUnread(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error)
	Save(ctx context.Context, n *Notification) error
	MarkAllRead(ctx context.Context, customerID uuid.UUID, at time.Time) (int64, error)
	DeleteByVerification(ctx context.Context, verificationID uuid.UUID) error
	DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error)
}

// RiderRepo is the rider mailbox.
type RiderRepo interface {
	Create(ctx context.Context, n *RiderNotification) error
	Get(ctx context.Context, id uuid.UUID) (*RiderNotification, error)
	ListByRider(ctx context.Context, riderID uuid.UUID, includeRead bool, now time.Time) ([]*RiderNotification, error)
	CountUnread(ctx context.Context, riderID uuid.UUID, now time.Time) (int64, error)
	Save(ctx context.Context, n *RiderNotification) error
	MarkAllRead(ctx context.Context, riderID uuid.UUID, at time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error)
}
