package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(dbName), nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the bidding pipeline relies on.
// The partial unique index on bid_deadlines guarantees at most one active
// deadline per listing; the bids index backs winner resolution lookups.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	deadlineIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "listing_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"is_active": true}),
	}
	if _, err := db.Collection("bid_deadlines").Indexes().CreateOne(ctx, deadlineIdx); err != nil {
		return fmt.Errorf("failed to create bid_deadlines index: %w", err)
	}

	bidIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "deadline_id", Value: 1}, {Key: "user_id", Value: 1}},
	}
	if _, err := db.Collection("bids").Indexes().CreateOne(ctx, bidIdx); err != nil {
		return fmt.Errorf("failed to create bids index: %w", err)
	}

	paymentIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "bid_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("payments").Indexes().CreateOne(ctx, paymentIdx); err != nil {
		return fmt.Errorf("failed to create payments index: %w", err)
	}
	return nil
}
