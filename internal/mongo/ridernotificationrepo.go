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

type RiderNotificationRepo struct {
	collection *mongo.Collection
}

func NewRiderNotificationRepo(db *mongo.Database) *RiderNotificationRepo {
	return &RiderNotificationRepo{
		collection: db.Collection("rider_notifications"),
	}
}

func (r *RiderNotificationRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "rider_id", Value: 1}, {Key: "read", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("cannot ensure rider notification indexes: %w", err)
	}
	return nil
}

func (r *RiderNotificationRepo) Create(ctx context.Context, n *notification.RiderNotification) error {
	if n == nil {
		return fmt.Errorf("rider notification is nil")
	}

	if _, err := r.collection.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("cannot create rider notification: %w", err)
	}

	return nil
}

func (r *RiderNotificationRepo) Get(ctx context.Context, id uuid.UUID) (*notification.RiderNotification, error) {
	var n notification.RiderNotification
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get rider notification: %w", err)
	}
	return &n, nil
}

func (r *RiderNotificationRepo) ListByRider(ctx context.Context, riderID uuid.UUID, includeRead bool, now time.Time) ([]*notification.RiderNotification, error) {
	filter := bson.M{
		"rider_id":   riderID,
		"expires_at": bson.M{"$gt": now},
	}
	if !includeRead {
		filter["read"] = false
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("cannot list rider notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*notification.RiderNotification
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode rider notifications: %w", err)
	}

	return result, nil
}

func (r *RiderNotificationRepo) CountUnread(ctx context.Context, riderID uuid.UUID, now time.Time) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"rider_id":   riderID,
		"read":       false,
		"expires_at": bson.M{"$gt": now},
	})
	if err != nil {
		return 0, fmt.Errorf("cannot count rider notifications: %w", err)
	}
	return count, nil
}

func (r *RiderNotificationRepo) Save(ctx context.Context, n *notification.RiderNotification) error {
	if n == nil {
		return fmt.Errorf("rider notification is nil")
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return fmt.Errorf("cannot save rider notification: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("rider notification %s not found", n.ID)
	}

	return nil
}

func (r *RiderNotificationRepo) MarkAllRead(ctx context.Context, riderID uuid.UUID, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"rider_id": riderID, "read": false},
		bson.M{"$set": bson.M{"read": true, "read_at": at}},
	)
	if err != nil {
		return 0, fmt.Errorf("cannot mark rider notifications read: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *RiderNotificationRepo) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": t}})
	if err != nil {
		return 0, fmt.Errorf("cannot purge rider notifications: %w", err)
	}
	return result.DeletedCount, nil
}
