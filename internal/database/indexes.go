package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type collectionIndexes struct {
	collection string
	models     []mongo.IndexModel
}

func indexPlan() []collectionIndexes {
	return []collectionIndexes{
		{"users", []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetName("email_unique").SetUnique(true)},
		}},
		{"products", []mongo.IndexModel{
			{Keys: bson.D{{Key: "sku", Value: 1}}, Options: options.Index().SetName("sku_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetName("slug_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "categoryId", Value: 1}, {Key: "isActive", Value: 1}}, Options: options.Index().SetName("category_active")},
			{Keys: bson.D{{Key: "name", Value: "text"}, {Key: "description", Value: "text"}, {Key: "tags", Value: "text"}}, Options: options.Index().SetName("product_text")},
		}},
		{"categories", []mongo.IndexModel{
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetName("slug_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "parentId", Value: 1}}, Options: options.Index().SetName("parentId_index")},
		}},
		{"coupons", []mongo.IndexModel{
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetName("code_unique").SetUnique(true)},
		}},
		{"reviews", []mongo.IndexModel{
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "userId", Value: 1}}, Options: options.Index().SetName("product_user_unique").SetUnique(true)},
		}},
		{"carts", []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetName("userId_unique").SetUnique(true)},
		}},
		{"orders", []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("userId_createdAt")},
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetName("orderNumber_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "payment.paymentIntentId", Value: 1}}, Options: options.Index().SetName("paymentIntent_index").SetSparse(true)},
		}},
		{"refresh_tokens", []mongo.IndexModel{
			{Keys: bson.D{{Key: "tokenHash", Value: 1}}, Options: options.Index().SetName("tokenHash_unique").SetUnique(true)},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0)},
		}},
		{"interactions", []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("userId_createdAt")},
			{Keys: bson.D{{Key: "productId", Value: 1}}, Options: options.Index().SetName("productId_index")},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}, Options: options.Index().SetName("createdAt_index")},
		}},
	}
}

// EnsureIndexes creates every index the application relies on. Failures are
// logged per collection and the first one is returned.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	var firstErr error
	for _, plan := range indexPlan() {
		if err := ensureCollectionIndexes(ctx, db, plan); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func ensureCollectionIndexes(ctx context.Context, db *mongo.Database, plan collectionIndexes) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	logger := log.With().Str("component", "database").Str("collection", plan.collection).Logger()

	names, err := db.Collection(plan.collection).Indexes().CreateMany(ctx, plan.models)
	if err != nil {
		logger.Error().Err(err).Msg("index creation failed")
		return err
	}
	logger.Debug().Strs("indexes", names).Msg("indexes ensured")
	return nil
}
