package commands

import (
	"context"
	"fmt"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/courierclub/courier/internal/verification"
)

// ClearDemo removes everything the demo seed created: the demo customer's
// verifications and notifications, the demo rider's outcomes, and the seed
// tracking record so seed-demo can run again.
func ClearDemo(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Info("Clearing demo data")

	client, db, err := connect(ctx, config)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	customerID := verification.DemoCustomerID.String()
	riderID := verification.DemoRiderID.String()

	res, err := db.Collection("verifications").DeleteMany(ctx, bson.M{"customer_id": customerID})
	if err != nil {
		return fmt.Errorf("clear verifications: %w", err)
	}
	logger.Info("Cleared demo verifications", "deleted", res.DeletedCount)

	res, err = db.Collection("notifications").DeleteMany(ctx, bson.M{"customer_id": customerID})
	if err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}
	logger.Info("Cleared demo notifications", "deleted", res.DeletedCount)

	res, err = db.Collection("rider_notifications").DeleteMany(ctx, bson.M{"rider_id": riderID})
	if err != nil {
		return fmt.Errorf("clear rider notifications: %w", err)
	}
	logger.Info("Cleared demo rider notifications", "deleted", res.DeletedCount)

	if _, err := db.Collection("_seeds").DeleteMany(ctx, bson.M{"application": "verification_demo"}); err != nil {
		logger.Infof("Failed to clear seed records (may not exist): %v", err)
	}

	return nil
}
