package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/events"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type reviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Title   string `json:"title" binding:"max=120"`
	Comment string `json:"comment" binding:"required,min=3,max=2000"`
}

type reviewUpdateRequest struct {
	Rating  *int    `json:"rating" binding:"omitempty,min=1,max=5"`
	Title   *string `json:"title" binding:"omitempty,max=120"`
	Comment *string `json:"comment" binding:"omitempty,min=3,max=2000"`
}

// refreshProductRating recomputes rating.average and rating.count from the
// reviews collection.
func refreshProductRating(ctx context.Context, db *mongo.Database, productID primitive.ObjectID) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"productId": productID}}},
		{{Key: "$group", Value: bson.M{
			"_id":     "$productId",
			"average": bson.M{"$avg": "$rating"},
			"count":   bson.M{"$sum": 1},
		}}},
	}
	cursor, err := db.Collection(colReviews).Aggregate(ctx, pipeline)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Average float64 `bson:"average"`
		Count   int     `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return err
	}

	rating := models.Rating{}
	if len(rows) > 0 {
		rating.Average = math.Round(rows[0].Average*10) / 10
		rating.Count = rows[0].Count
	}

	_, err = db.Collection(colProducts).UpdateByID(ctx, productID, bson.M{"$set": bson.M{"rating": rating}})
	return err
}

func hasDeliveredOrder(ctx context.Context, db *mongo.Database, userID, productID primitive.ObjectID) (bool, error) {
	n, err := db.Collection(colOrders).CountDocuments(ctx, bson.M{
		"userId":          userID,
		"status":          models.StatusDelivered,
		"items.productId": productID,
	}, options.Count().SetLimit(1))
	return n > 0, err
}

func afterReviewChange(ctx context.Context, d *Deps, productID primitive.ObjectID, route string) {
	if err := refreshProductRating(ctx, d.DB, productID); err != nil {
		log.Error().Err(err).Str("route", route).Str("product_id", productID.Hex()).Msg("rating refresh failed")
	}
	invalidateProductCache(ctx, d)
}

func GetProductReviews(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products/:id/reviews"

		productID, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		filter := bson.M{"productId": productID}
		total, err := d.col(colReviews).CountDocuments(ctx, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		cursor, err := d.col(colReviews).Find(ctx, filter, options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip(page.skip()).
			SetLimit(page.Limit))
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		reviews := make([]models.Review, 0)
		if err := cursor.All(ctx, &reviews); err != nil {
			respondServerError(c, route, err)
			return
		}

		respondPage(c, reviews, page, total)
	}
}

func CreateReview(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/products/:id/reviews"

		productID, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		var req reviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		count, err := d.col(colProducts).CountDocuments(ctx, bson.M{"_id": productID, "isDeleted": bson.M{"$ne": true}})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if count == 0 {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}

		verified, err := hasDeliveredOrder(ctx, d.DB, user.ID, productID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		now := d.now()
		review := models.Review{
			ID:               primitive.NewObjectID(),
			ProductID:        productID,
			UserID:           user.ID,
			UserName:         user.Name,
			Rating:           req.Rating,
			Title:            strings.TrimSpace(req.Title),
			Comment:          strings.TrimSpace(req.Comment),
			VerifiedPurchase: verified,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if _, err := d.col(colReviews).InsertOne(ctx, review); err != nil {
			if isDuplicateKey(err) {
				respondWithError(c, http.StatusConflict, route, "you have already reviewed this product")
				return
			}
			respondServerError(c, route, err)
			return
		}

		afterReviewChange(ctx, d, productID, route)
		trackBehavior(d, user.ID, productID, models.BehaviorReview)
		d.publish(events.ReviewCreated, review.ID.Hex(), gin.H{"productId": productID.Hex(), "rating": review.Rating})

		respondCreated(c, "review created", review)
	}
}

func UpdateReview(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/reviews/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		var req reviewUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		set := bson.M{}
		if req.Rating != nil {
			set["rating"] = *req.Rating
		}
		if req.Title != nil {
			set["title"] = strings.TrimSpace(*req.Title)
		}
		if req.Comment != nil {
			set["comment"] = strings.TrimSpace(*req.Comment)
		}
		if len(set) == 0 {
			respondWithError(c, http.StatusBadRequest, route, "no fields to update")
			return
		}
		set["updatedAt"] = d.now()

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var review models.Review
		err := d.col(colReviews).FindOneAndUpdate(ctx,
			bson.M{"_id": id, "userId": userID},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&review)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "review not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		afterReviewChange(ctx, d, review.ProductID, route)
		respondOK(c, "review updated", review)
	}
}

func DeleteReview(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/reviews/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		filter := bson.M{"_id": id}
		if !middleware.IsAdmin(c) {
			filter["userId"] = userID
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var review models.Review
		err := d.col(colReviews).FindOneAndDelete(ctx, filter).Decode(&review)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "review not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		afterReviewChange(ctx, d, review.ProductID, route)
		respondOK(c, "review deleted", nil)
	}
}
