package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
	"storefront/internal/recommend"
)

const (
	interactionWindow   = 2000
	recommendationTTL   = time.Hour
	popularTTL          = time.Hour
	similarTTL          = 24 * time.Hour
	defaultRecommendN   = 10
	maxRecommendN       = 50
	maxCatalogForScores = 5000
)

type behaviorRequest struct {
	ProductID string  `json:"productId" binding:"required,objectid"`
	Type      string  `json:"type" binding:"required,oneof=view click add_to_cart purchase like share review wishlist"`
	Rating    float64 `json:"rating" binding:"omitempty,min=1,max=5"`
	SessionID string  `json:"sessionId" binding:"max=100"`
}

// RecommendedProduct pairs a product with the reason it was picked.
type RecommendedProduct struct {
	Product models.Product `json:"product"`
	Score   float64        `json:"score"`
	Reason  string         `json:"reason,omitempty"`
	Methods []string       `json:"methods,omitempty"`
}

func userRecsPattern(userID primitive.ObjectID) string {
	return "recs:user:" + userID.Hex() + ":*"
}

func recordInteraction(ctx context.Context, d *Deps, in models.Interaction) error {
	if in.ID.IsZero() {
		in.ID = primitive.NewObjectID()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = d.now()
	}
	if _, err := d.col(colInteractions).InsertOne(ctx, in); err != nil {
		return err
	}
	if models.IsSignificantBehavior(in.Type) {
		if _, err := d.Cache.DeletePattern(ctx, userRecsPattern(in.UserID)); err != nil {
			log.Warn().Err(err).Str("user_id", in.UserID.Hex()).Msg("recommendation cache invalidation failed")
		}
	}
	return nil
}

// trackBehavior records an implicit interaction. Failures are logged and
// never fail the calling request.
func trackBehavior(d *Deps, userID, productID primitive.ObjectID, kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := models.Interaction{UserID: userID, ProductID: productID, Type: kind}
	if err := recordInteraction(ctx, d, in); err != nil {
		log.Warn().Err(err).Str("type", kind).Str("product_id", productID.Hex()).Msg("interaction not recorded")
	}
}

func parseLimit(raw string, def, upper int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > upper {
		return 0, fmt.Errorf("limit must be between 1 and %d", upper)
	}
	return n, nil
}

func loadVisibleProducts(ctx context.Context, d *Deps, categoryIDs []primitive.ObjectID) ([]models.Product, error) {
	filter := visibleProductFilter()
	if categoryIDs != nil {
		filter["categoryId"] = bson.M{"$in": categoryIDs}
	}
	cursor, err := d.col(colProducts).Find(ctx, filter, options.Find().SetLimit(maxCatalogForScores))
	if err != nil {
		return nil, err
	}
	return decodeProducts(ctx, cursor)
}

// categoryScope resolves the optional category query to the category and its
// descendants. ok is false when the category does not exist.
func categoryScope(ctx context.Context, d *Deps, ref string) ([]primitive.ObjectID, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, true, nil
	}
	category, err := findCategory(ctx, d.DB, ref)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	all, err := loadCategories(ctx, d.DB, bson.M{"isActive": true})
	if err != nil {
		return nil, false, err
	}
	return models.DescendantIDs(all, category.ID), true, nil
}

// loadInteractions returns the most recent interactions across all users
// within the window plus the caller's own history.
func loadInteractions(ctx context.Context, d *Deps, userID primitive.ObjectID, since time.Time) ([]models.Interaction, error) {
	recent := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(interactionWindow)

	var out []models.Interaction
	seen := map[primitive.ObjectID]bool{}
	for _, filter := range []bson.M{
		{"userId": userID, "createdAt": bson.M{"$gte": since}},
		{"createdAt": bson.M{"$gte": since}},
	} {
		cursor, err := d.col(colInteractions).Find(ctx, filter, recent)
		if err != nil {
			return nil, err
		}
		var batch []models.Interaction
		if err := cursor.All(ctx, &batch); err != nil {
			return nil, err
		}
		for _, in := range batch {
			if !seen[in.ID] {
				seen[in.ID] = true
				out = append(out, in)
			}
		}
	}
	return out, nil
}

func attachProducts(scored []recommend.Scored, products map[primitive.ObjectID]models.Product) []RecommendedProduct {
	out := make([]RecommendedProduct, 0, len(scored))
	for _, s := range scored {
		if p, ok := products[s.ProductID]; ok {
			out = append(out, RecommendedProduct{Product: p, Score: s.Score})
		}
	}
	return out
}

func indexProducts(products []models.Product) map[primitive.ObjectID]models.Product {
	out := make(map[primitive.ObjectID]models.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out
}

func RecordBehavior(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/recommendations/behavior"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		var req behaviorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		productID, _ := primitive.ObjectIDFromHex(req.ProductID)

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		in := models.Interaction{
			UserID:    userID,
			ProductID: productID,
			Type:      req.Type,
			Rating:    req.Rating,
			SessionID: strings.TrimSpace(req.SessionID),
		}
		if err := recordInteraction(ctx, d, in); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondCreated(c, "behavior recorded", nil)
	}
}

func GetRecommendations(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/recommendations"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		limit, err := parseLimit(c.Query("limit"), defaultRecommendN, maxRecommendN)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		excludePurchased := true
		if raw := c.Query("excludePurchased"); raw != "" {
			if excludePurchased, err = parseBoolValue(raw); err != nil {
				respondWithError(c, http.StatusBadRequest, route, "excludePurchased must be a boolean")
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		key := fmt.Sprintf("recs:user:%s:%d:%t", userID.Hex(), limit, excludePurchased)
		var cached []RecommendedProduct
		if err := d.Cache.GetJSON(ctx, key, &cached); err == nil {
			respondOK(c, "ok", cached)
			return
		}

		now := d.now()
		interactions, err := loadInteractions(ctx, d, userID, now.Add(-recommend.MaxHistoryAge))
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		products, err := loadVisibleProducts(ctx, d, nil)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		recs := recommend.Hybrid(recommend.Request{
			UserID:           userID,
			Interactions:     interactions,
			Products:         products,
			Limit:            limit,
			ExcludePurchased: excludePurchased,
			Now:              now,
		})

		byID := indexProducts(products)
		out := make([]RecommendedProduct, 0, len(recs))
		for _, r := range recs {
			if p, ok := byID[r.ProductID]; ok {
				out = append(out, RecommendedProduct{Product: p, Score: r.Score, Reason: r.Reason, Methods: r.Methods})
			}
		}

		if err := d.Cache.SetJSON(ctx, key, out, recommendationTTL); err != nil {
			log.Debug().Err(err).Str("route", route).Msg("recommendation cache write failed")
		}
		respondOK(c, "ok", out)
	}
}

func GetTrending(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/recommendations/trending"

		period := strings.TrimSpace(c.Query("period"))
		window, ok := recommend.TrendingWindow(period)
		if !ok {
			respondWithError(c, http.StatusBadRequest, route, "period must be day, week or month")
			return
		}
		limit, err := parseLimit(c.Query("limit"), defaultRecommendN, maxRecommendN)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		scope, found, err := categoryScope(ctx, d, c.Query("category"))
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if !found {
			respondOK(c, "ok", []RecommendedProduct{})
			return
		}

		products, err := loadVisibleProducts(ctx, d, scope)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		byID := indexProducts(products)

		since := d.now().Add(-window)
		cursor, err := d.col(colInteractions).Find(ctx,
			bson.M{"createdAt": bson.M{"$gte": since}},
			options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(interactionWindow),
		)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		var interactions []models.Interaction
		if err := cursor.All(ctx, &interactions); err != nil {
			respondServerError(c, route, err)
			return
		}

		// Only interactions on visible products in scope count.
		relevant := interactions[:0]
		for _, in := range interactions {
			if _, ok := byID[in.ProductID]; ok {
				relevant = append(relevant, in)
			}
		}

		respondOK(c, "ok", attachProducts(recommend.Trending(relevant, since, limit), byID))
	}
}

func GetPopular(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/recommendations/popular"

		limit, err := parseLimit(c.Query("limit"), defaultRecommendN, maxRecommendN)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		category := strings.ToLower(strings.TrimSpace(c.Query("category")))

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		key := fmt.Sprintf("recs:popular:%s:%d", category, limit)
		var cached []RecommendedProduct
		if err := d.Cache.GetJSON(ctx, key, &cached); err == nil {
			respondOK(c, "ok", cached)
			return
		}

		scope, found, err := categoryScope(ctx, d, category)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if !found {
			respondOK(c, "ok", []RecommendedProduct{})
			return
		}

		products, err := loadVisibleProducts(ctx, d, scope)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		out := attachProducts(recommend.Popular(products, limit), indexProducts(products))
		_ = d.Cache.SetJSON(ctx, key, out, popularTTL)
		respondOK(c, "ok", out)
	}
}

// GetSimilarProducts serves content similar products for /products/:id/similar
// and /recommendations/products/:id/similar.
func GetSimilarProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products/:id/similar"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		limit, err := parseLimit(c.Query("limit"), defaultRecommendN, maxRecommendN)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		key := fmt.Sprintf("recs:similar:%s:%d", id.Hex(), limit)
		var cached []RecommendedProduct
		if err := d.Cache.GetJSON(ctx, key, &cached); err == nil {
			respondOK(c, "ok", cached)
			return
		}

		products, err := loadVisibleProducts(ctx, d, nil)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		catalog := recommend.NewCatalog(products)
		if !catalog.Has(id) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}

		out := attachProducts(catalog.Similar(id, limit), indexProducts(products))
		for i := range out {
			out[i].Reason = "Similar product"
		}
		_ = d.Cache.SetJSON(ctx, key, out, similarTTL)
		respondOK(c, "ok", out)
	}
}
