package commands

import (
	"context"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
)

// ResetDB drops the courier database - USE WITH CAUTION
func ResetDB(ctx context.Context, config *apt.Config, logger apt.Logger) error {
	logger.Infof("DANGER: This will drop the courier database!")
	logger.Infof("This action cannot be undone!")

	client, db, err := connect(ctx, config)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	logger.Info("Dropping database", "database", db.Name())
	result := db.RunCommand(ctx, bson.D{{Key: "dropDatabase", Value: 1}})
	if result.Err() != nil {
		logger.Infof("Failed to drop database %s (may not exist): %v", db.Name(), result.Err())
		return nil
	}

	logger.Info("Database dropped", "database", db.Name())
	return nil
}
