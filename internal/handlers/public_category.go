package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

const categoryTreeKey = "categories:tree"

func loadCategories(ctx context.Context, db *mongo.Database, filter bson.M) ([]models.Category, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sortOrder", Value: 1}, {Key: "name", Value: 1}})
	cursor, err := db.Collection(colCategories).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	categories := make([]models.Category, 0)
	if err := cursor.All(ctx, &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// findCategory resolves a category by slug or hex id.
func findCategory(ctx context.Context, db *mongo.Database, ref string) (models.Category, error) {
	filter := bson.M{"slug": strings.ToLower(ref)}
	if id, err := primitive.ObjectIDFromHex(ref); err == nil {
		filter = bson.M{"_id": id}
	}

	var category models.Category
	err := db.Collection(colCategories).FindOne(ctx, filter).Decode(&category)
	return category, err
}

func GetCategories(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/categories"

		if err := ensureDBConnection(c.Request.Context(), d.DB); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, "database unavailable")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var tree []*models.CategoryNode
		if err := d.Cache.GetJSON(ctx, categoryTreeKey, &tree); err == nil {
			respondOK(c, "ok", tree)
			return
		}

		categories, err := loadCategories(ctx, d.DB, bson.M{"isActive": true})
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		tree = models.BuildCategoryTree(categories)
		if err := d.Cache.SetJSON(ctx, categoryTreeKey, tree, d.CacheTTL); err != nil {
			log.Debug().Err(err).Str("route", route).Msg("category cache write failed")
		}

		respondOK(c, "ok", tree)
	}
}

func GetCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/categories/:slug"

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		category, err := findCategory(ctx, d.DB, strings.TrimSpace(c.Param("slug")))
		if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && !category.IsActive) {
			respondWithError(c, http.StatusNotFound, route, "category not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "ok", category)
	}
}
