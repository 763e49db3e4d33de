package db

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"homebid/internal/models"
)

// InsertOne inserts a document, generating its ID when empty and
// regenerating it on duplicate-key collisions.
func InsertOne(ctx context.Context, collection *mongo.Collection, doc models.IBase) (models.IBase, error) {
	doc.GenIDIfEmpty()
	err := WithRetries(func() error {
		_, insertErr := collection.InsertOne(ctx, doc)
		return insertErr
	}, DefaultMaxRetries, func(err error) bool {
		if IsMongoDuplicateKeyError(err) {
			doc.GenID()
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
