package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/courierclub/courier/internal/notification"
)

// NotificationRepo persists the customer mailbox. Read paths filter expired
// envelopes at the query level; physical deletion is the purger's job.
type NotificationRepo struct {
	collection *mongo.Collection
}

func NewNotificationRepo(db *mongo.Database) *NotificationRepo {
	return &NotificationRepo{
		collection: db.Collection("notifications"),
	}
}

// EnsureIndexes covers the mailbox read paths: per-customer unread listing
// and the purger's expiry scan.
func (r *NotificationRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "read", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("cannot ensure notification indexes: %w", err)
	}
	return nil
}

func (r *NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is nil")
	}

	if _, err := r.collection.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("cannot create notification: %w", err)
	}

	return nil
}

func (r *NotificationRepo) Get(ctx context.Context, id uuid.UUID) (*notification.Notification, error) {
	var n notification.Notification
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get notification: %w", err)
	}
	return &n, nil
}

func (r *NotificationRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID, includeRead bool, now time.Time) ([]*notification.Notification, error) {
	filter := bson.M{
		"customer_id": customerID,
		"expires_at":  bson.M{"$gt": now},
	}
	if !includeRead {
		filter["read"] = false
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("cannot list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*notification.Notification
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode notifications: %w", err)
	}

	return result, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"customer_id": customerID,
		"read":        false,
		"expires_at":  bson.M{"$gt": now},
	})
	if err != nil {
		return 0, fmt.Errorf("cannot count notifications: %w", err)
	}
	return count, nil
}

func (r *NotificationRepo) Save(ctx context.Context, n *notification.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is nil")
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return fmt.Errorf("cannot save notification: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("notification %s not found", n.ID)
	}

	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, customerID uuid.UUID, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"customer_id": customerID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("cannot mark notifications read: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *NotificationRepo) DeleteByVerification(ctx context.Context, verificationID uuid.UUID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"data.verification_id": verificationID.String()})
	if err != nil {
		return fmt.Errorf("cannot delete notifications for verification %s: %w", verificationID, err)
	}
	return nil
}

func (r *NotificationRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": t}})
	if err != nil {
		return 0, fmt.Errorf("cannot purge notifications: %w", err)
	}
	return result.DeletedCount, nil
}
