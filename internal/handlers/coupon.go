package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
	"storefront/internal/pricing"
)

type couponPayload struct {
	Code           string    `json:"code" binding:"required,min=3,max=50"`
	Description    string    `json:"description" binding:"max=500"`
	Type           string    `json:"type" binding:"required,oneof=percentage fixed free_shipping"`
	Value          float64   `json:"value" binding:"gte=0"`
	MinOrderAmount float64   `json:"minOrderAmount" binding:"gte=0"`
	MaxDiscount    float64   `json:"maxDiscount" binding:"gte=0"`
	UsageLimit     int       `json:"usageLimit" binding:"gte=0"`
	PerUserLimit   int       `json:"perUserLimit" binding:"gte=0"`
	ValidFrom      time.Time `json:"validFrom"`
	ValidUntil     time.Time `json:"validUntil"`
	IsActive       *bool     `json:"isActive"`
}

func (p couponPayload) apply(c *models.Coupon) {
	c.Code = pricing.NormalizeCouponCode(p.Code)
	c.Description = strings.TrimSpace(p.Description)
	c.Type = p.Type
	c.Value = p.Value
	c.MinOrderAmount = p.MinOrderAmount
	c.MaxDiscount = p.MaxDiscount
	c.UsageLimit = p.UsageLimit
	c.PerUserLimit = p.PerUserLimit
	c.ValidFrom = p.ValidFrom
	c.ValidUntil = p.ValidUntil
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

func ListCoupons(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/coupons"

		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		filter := bson.M{}
		if v := strings.TrimSpace(c.Query("isActive")); v != "" {
			filter["isActive"] = v == "true"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		total, err := d.col(colCoupons).CountDocuments(ctx, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		cursor, err := d.col(colCoupons).Find(ctx, filter, options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip(page.skip()).
			SetLimit(page.Limit))
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		coupons := make([]models.Coupon, 0)
		if err := cursor.All(ctx, &coupons); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondPage(c, coupons, page, total)
	}
}

func GetCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/coupons/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var coupon models.Coupon
		err := d.col(colCoupons).FindOne(ctx, bson.M{"_id": id}).Decode(&coupon)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "coupon not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		respondOK(c, "ok", coupon)
	}
}

func CreateCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/coupons"

		var req couponPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		now := d.now()
		coupon := models.Coupon{
			ID:        primitive.NewObjectID(),
			IsActive:  true,
			UsedBy:    []models.CouponUse{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		req.apply(&coupon)
		if err := pricing.ValidateCouponDefinition(coupon); err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		if _, err := d.col(colCoupons).InsertOne(ctx, coupon); err != nil {
			if isDuplicateKey(err) {
				respondWithError(c, http.StatusConflict, route, "coupon code already exists")
				return
			}
			respondServerError(c, route, err)
			return
		}
		respondCreated(c, "coupon created", coupon)
	}
}

func UpdateCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/coupons/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		var req couponPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var coupon models.Coupon
		err := d.col(colCoupons).FindOne(ctx, bson.M{"_id": id}).Decode(&coupon)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "coupon not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		req.apply(&coupon)
		if err := pricing.ValidateCouponDefinition(coupon); err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		coupon.UpdatedAt = d.now()

		// usedCount and usedBy belong to checkout and are never overwritten here.
		_, err = d.col(colCoupons).UpdateByID(ctx, id, bson.M{"$set": bson.M{
			"code":           coupon.Code,
			"description":    coupon.Description,
			"type":           coupon.Type,
			"value":          coupon.Value,
			"minOrderAmount": coupon.MinOrderAmount,
			"maxDiscount":    coupon.MaxDiscount,
			"usageLimit":     coupon.UsageLimit,
			"perUserLimit":   coupon.PerUserLimit,
			"validFrom":      coupon.ValidFrom,
			"validUntil":     coupon.ValidUntil,
			"isActive":       coupon.IsActive,
			"updatedAt":      coupon.UpdatedAt,
		}})
		if isDuplicateKey(err) {
			respondWithError(c, http.StatusConflict, route, "coupon code already exists")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		respondOK(c, "coupon updated", coupon)
	}
}

// DeleteCoupon deactivates the coupon so past orders still resolve it.
func DeleteCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/coupons/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		result, err := d.col(colCoupons).UpdateByID(ctx, id, bson.M{"$set": bson.M{"isActive": false, "updatedAt": d.now()}})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if result.MatchedCount == 0 {
			respondWithError(c, http.StatusNotFound, route, "coupon not found")
			return
		}
		respondOK(c, "coupon deleted", nil)
	}
}

// ValidateCoupon previews the discount against the caller's current cart.
func ValidateCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/coupons/validate"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		var req couponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		coupon, err := findCoupon(ctx, d.DB, req.Code)
		if err != nil {
			respondCouponError(c, route, err)
			return
		}

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if _, err := priceFromCatalog(ctx, d, &cart, nil); err != nil {
			respondServerError(c, route, err)
			return
		}

		subtotal := cart.Totals.Subtotal
		if err := pricing.CheckCoupon(*coupon, userID, subtotal, d.now()); err != nil {
			respondCouponError(c, route, err)
			return
		}

		lines := make([]pricing.Line, 0, len(cart.Items))
		for _, item := range cart.Items {
			if item.Available {
				lines = append(lines, pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
			}
		}

		respondOK(c, "coupon is valid", gin.H{
			"code":        coupon.Code,
			"type":        coupon.Type,
			"value":       coupon.Value,
			"description": coupon.Description,
			"discount":    pricing.CouponDiscount(*coupon, subtotal),
			"totals":      d.Pricing.Compute(lines, coupon),
		})
	}
}
