package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/courierclub/courier/internal/verification"
)

type ProposalRepo struct {
	collection *mongo.Collection
}

func NewProposalRepo(db *mongo.Database) *ProposalRepo {
	return &ProposalRepo{
		collection: db.Collection("verifications"),
	}
}

// EnsureIndexes creates the partial unique index that backs the single
// pending proposal per order rule at the storage layer, so two concurrent
// submissions cannot both insert a pending proposal.
func (r *ProposalRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "order_id", Value: 1}},
		Options: options.Index().
			SetName("one_pending_per_order").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": string(verification.StatusPending)}),
	})
	if err != nil {
		return fmt.Errorf("cannot ensure proposal indexes: %w", err)
	}
	return nil
}

func (r *ProposalRepo) Create(ctx context.Context, p *verification.Proposal) error {
	if p == nil {
		return fmt.Errorf("proposal is nil")
	}

	if _, err := r.collection.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("cannot create proposal: %w", verification.ErrDuplicatePending)
		}
		return fmt.Errorf("cannot create proposal: %w", err)
	}

	return nil
}

func (r *ProposalRepo) Get(ctx context.Context, id uuid.UUID) (*verification.Proposal, error) {
	var p verification.Proposal
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get proposal: %w", err)
	}
	return &p, nil
}

func (r *ProposalRepo) PendingByOrder(ctx context.Context, orderID uuid.UUID) (*verification.Proposal, error) {
	var p verification.Proposal
	err := r.collection.FindOne(ctx, bson.M{
		"order_id": orderID,
		"status":   verification.StatusPending,
	}).Decode(&p)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get pending proposal: %w", err)
	}
	return &p, nil
}

func (r *ProposalRepo) ListPendingByCustomer(ctx context.Context, customerID uuid.UUID) ([]*verification.Proposal, error) {
	cursor, err := r.collection.Find(ctx, bson.M{
		"customer_id": customerID,
		"status":      verification.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list pending proposals: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*verification.Proposal
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode proposals: %w", err)
	}

	return result, nil
}

func (r *ProposalRepo) ListPendingExpiredBefore(ctx context.Context, t time.Time) ([]*verification.Proposal, error) {
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":     verification.StatusPending,
		"expires_at": bson.M{"$lt": t},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list expired proposals: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*verification.Proposal
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode proposals: %w", err)
	}

	return result, nil
}

// SaveFromPending matches on status as well as id, so a concurrent decision
// or sweep that already moved the proposal out of pending leaves nothing for
// this write to match.
func (r *ProposalRepo) SaveFromPending(ctx context.Context, p *verification.Proposal) error {
	if p == nil {
		return fmt.Errorf("proposal is nil")
	}

	result, err := r.collection.ReplaceOne(ctx, bson.M{
		"_id":    p.ID,
		"status": verification.StatusPending,
	}, p)
	if err != nil {
		return fmt.Errorf("cannot save proposal: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("cannot save proposal %s: %w", p.ID, verification.ErrNotPending)
	}

	return nil
}
