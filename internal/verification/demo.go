package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/seed"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/courierclub/courier/internal/notification"
)

const demoSeedApplication = "verification_demo"

// Fixed demo identities so repeated environments stay addressable.
var (
	DemoCustomerID = uuid.MustParse("7d3f1c2a-9b4e-4f6d-8a1c-2e5b7f9d0c3a")
	DemoRiderID    = uuid.MustParse("a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d")
)

// DemoRepos bundles what the demo scenarios write to.
type DemoRepos struct {
	Proposals ProposalRepo
	Customers notification.Repo
	Riders    notification.RiderRepo
}

// ApplyDemoSeeds creates demo verifications across the states the customer
// and rider apps render: pending, quick pickup, approved and rejected.
func ApplyDemoSeeds(ctx context.Context, repos DemoRepos, db *mongo.Database, logger apt.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}

	tracker := seed.NewMongoTracker(db)
	demoSeeds := []seed.Seed{
		{
			ID:          "2025-07-14_demo_verifications_v1",
			Description: "Create demo order change verifications and notifications",
			Run: func(ctx context.Context) error {
				return seedDemoVerifications(ctx, repos, logger)
			},
		},
	}

	logger.Info("Applying demo verification seeds")
	if err := seed.Apply(ctx, tracker, demoSeeds, demoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo verification seeds applied successfully")
	return nil
}

func seedDemoVerifications(ctx context.Context, repos DemoRepos, logger apt.Logger) error {
	now := time.Now()

	// Scenario 1: pending quantity increase awaiting the customer.
	pending := NewProposal(apt.GenerateNewID(), OrderKindRegular, DemoCustomerID, DemoRiderID,
		[]Item{{Name: "Flat White", Quantity: 1, Price: 4.20}, {Name: "Banana Bread", Quantity: 1, Price: 3.80}},
		[]Item{{Name: "Flat White", Quantity: 2, Price: 4.20}, {Name: "Banana Bread", Quantity: 1, Price: 3.80}},
		"Only large cups left, added a second one as agreed by phone")
	pending.CreatedAt = now.Add(-10 * time.Minute)
	pending.ExpiresAt = pending.CreatedAt.Add(DefaultTTL)
	if err := repos.Proposals.Create(ctx, pending); err != nil {
		return fmt.Errorf("create pending proposal: %w", err)
	}
	n := notification.NewPriceChange(DemoCustomerID, pending.OrderID, pending.ID, pending.PriceDelta(), false)
	if err := repos.Customers.Create(ctx, n); err != nil {
		return fmt.Errorf("create pending notification: %w", err)
	}

	// Scenario 2: quick pickup with no committed total yet.
	quick := NewProposal(apt.GenerateNewID(), OrderKindQuickPickup, DemoCustomerID, DemoRiderID,
		nil,
		[]Item{{Name: "Pharmacy parcel", Quantity: 1, Price: 18.90}},
		"Price confirmed at the counter")
	quick.CreatedAt = now.Add(-5 * time.Minute)
	quick.ExpiresAt = quick.CreatedAt.Add(DefaultTTL)
	if err := repos.Proposals.Create(ctx, quick); err != nil {
		return fmt.Errorf("create quick pickup proposal: %w", err)
	}
	n = notification.NewPriceChange(DemoCustomerID, quick.OrderID, quick.ID, quick.PriceDelta(), false)
	if err := repos.Customers.Create(ctx, n); err != nil {
		return fmt.Errorf("create quick pickup notification: %w", err)
	}

	// Scenario 3: an approved change with its rider outcome.
	approved := NewProposal(apt.GenerateNewID(), OrderKindRegular, DemoCustomerID, DemoRiderID,
		[]Item{{Name: "Margherita", Quantity: 1, Price: 12.00}},
		[]Item{{Name: "Marinara", Quantity: 1, Price: 11.00}},
		"Margherita sold out, swapped for marinara")
	if err := approved.Approve(); err != nil {
		return fmt.Errorf("approve demo proposal: %w", err)
	}
	if err := repos.Proposals.Create(ctx, approved); err != nil {
		return fmt.Errorf("create approved proposal: %w", err)
	}
	outcome := notification.NewRiderOutcome(DemoRiderID, approved.OrderID, approved.ID, true)
	if err := repos.Riders.Create(ctx, outcome); err != nil {
		return fmt.Errorf("create approval outcome: %w", err)
	}

	// Scenario 4: a rejected change with its rider outcome.
	rejected := NewProposal(apt.GenerateNewID(), OrderKindRegular, DemoCustomerID, DemoRiderID,
		[]Item{{Name: "Green Curry", Quantity: 1, Price: 14.50}},
		[]Item{{Name: "Red Curry", Quantity: 1, Price: 15.50}},
		"Green curry unavailable")
	if err := rejected.Reject(); err != nil {
		return fmt.Errorf("reject demo proposal: %w", err)
	}
	if err := repos.Proposals.Create(ctx, rejected); err != nil {
		return fmt.Errorf("create rejected proposal: %w", err)
	}
	outcome = notification.NewRiderOutcome(DemoRiderID, rejected.OrderID, rejected.ID, false)
	if err := repos.Riders.Create(ctx, outcome); err != nil {
		return fmt.Errorf("create rejection outcome: %w", err)
	}

	logger.Info("Created demo verifications",
		"customer_id", DemoCustomerID.String(),
		"rider_id", DemoRiderID.String(),
	)
	return nil
}

// DemoSeedingFunc returns a lifecycle OnStart-compatible function that runs
// seeding in the background so startup is not blocked on Mongo.
func DemoSeedingFunc(seedCtx context.Context, repos DemoRepos, db *mongo.Database, logger apt.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo verification seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, repos, db, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo verification seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo verification seeding completed successfully")
			}
		}()
		return nil
	}
}
