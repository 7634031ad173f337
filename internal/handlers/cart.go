package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
	"storefront/internal/pricing"
)

type addCartItemRequest struct {
	ProductID  string `json:"productId" binding:"required,objectid"`
	VariantSKU string `json:"variantSku" binding:"max=64"`
	Quantity   int    `json:"quantity" binding:"required,min=1,max=99"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required,min=0,max=99"`
}

type couponRequest struct {
	Code string `json:"code" binding:"required,max=50"`
}

func loadCart(ctx context.Context, db *mongo.Database, userID primitive.ObjectID) (models.Cart, error) {
	var cart models.Cart
	err := db.Collection(colCarts).FindOne(ctx, bson.M{"userId": userID}).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return models.Cart{}, err
	}
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	return cart, nil
}

func saveCart(ctx context.Context, db *mongo.Database, cart *models.Cart, now time.Time) error {
	cart.UpdatedAt = now
	set := bson.M{"items": cart.Items, "updatedAt": now, "couponCode": cart.CouponCode}
	_, err := db.Collection(colCarts).UpdateOne(ctx,
		bson.M{"userId": cart.UserID},
		bson.M{"$set": set, "$setOnInsert": bson.M{"userId": cart.UserID}},
		options.Update().SetUpsert(true),
	)
	return err
}

func findCoupon(ctx context.Context, db *mongo.Database, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := db.Collection(colCoupons).FindOne(ctx, bson.M{"code": pricing.NormalizeCouponCode(code)}).Decode(&coupon)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &pricing.CouponError{Reason: pricing.CouponNotFound, Msg: "coupon not found"}
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// priceCart refreshes every line from the catalog and computes totals. Lines
// whose product is gone, inactive or short on stock are marked unavailable
// and left out of the totals. A coupon that no longer applies is dropped
// from the totals and explained in CouponNote. It reports whether any stored
// line changed.
func priceCart(cart *models.Cart, products map[primitive.ObjectID]models.Product, coupon *models.Coupon, rules pricing.Rules, now time.Time) bool {
	changed := false
	lines := make([]pricing.Line, 0, len(cart.Items))

	for i := range cart.Items {
		item := &cart.Items[i]
		product, ok := products[item.ProductID]
		item.Available = ok && product.IsActive && !product.IsDeleted
		if ok {
			if item.VariantSKU != "" {
				if _, found := product.FindVariant(item.VariantSKU); !found {
					item.Available = false
				}
			}
			if product.AvailableStock(item.VariantSKU) < item.Quantity {
				item.Available = false
			}

			price := pricing.UnitPrice(product, item.VariantSKU)
			if price != item.UnitPrice || product.Name != item.Name {
				changed = true
			}
			item.UnitPrice = price
			item.Name = product.Name
			item.Image = product.PrimaryImage()
		}

		item.LineTotal = pricing.LineTotal(item.UnitPrice, item.Quantity)
		if item.Available {
			lines = append(lines, pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
		}
	}

	cart.CouponNote = ""
	if coupon != nil {
		subtotal := rules.Compute(lines, nil).Subtotal
		if err := pricing.CheckCoupon(*coupon, cart.UserID, subtotal, now); err != nil {
			cart.CouponNote = err.Error()
			coupon = nil
		}
	}

	cart.Totals = rules.Compute(lines, coupon)
	return changed
}

// priceFromCatalog loads the products behind cart and prices it against
// coupon without saving anything.
func priceFromCatalog(ctx context.Context, d *Deps, cart *models.Cart, coupon *models.Coupon) (bool, error) {
	ids := make([]primitive.ObjectID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := loadProductsByIDs(ctx, d, ids)
	if err != nil {
		return false, err
	}
	return priceCart(cart, products, coupon, d.Pricing, d.now()), nil
}

// hydrateCart loads the products and coupon referenced by a stored cart,
// prices it and saves refreshed line prices. The resolved coupon is returned
// only when it applies.
func hydrateCart(ctx context.Context, d *Deps, cart *models.Cart) (*models.Coupon, error) {
	var coupon *models.Coupon
	if cart.CouponCode != "" {
		var err error
		coupon, err = findCoupon(ctx, d.DB, cart.CouponCode)
		var couponErr *pricing.CouponError
		if errors.As(err, &couponErr) {
			coupon = nil
		} else if err != nil {
			return nil, err
		}
	}

	changed, err := priceFromCatalog(ctx, d, cart, coupon)
	if err != nil {
		return nil, err
	}
	if changed && cart.ID != primitive.NilObjectID {
		if err := saveCart(ctx, d.DB, cart, d.now()); err != nil {
			log.Warn().Err(err).Str("user_id", cart.UserID.Hex()).Msg("cart price refresh not saved")
		}
	}
	if cart.CouponCode != "" && coupon == nil && cart.CouponNote == "" {
		cart.CouponNote = "coupon " + cart.CouponCode + " is no longer available"
	}
	if cart.CouponNote != "" {
		return nil, nil
	}
	return coupon, nil
}

func respondCart(c *gin.Context, d *Deps, route, message string, cart models.Cart) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	if _, err := hydrateCart(ctx, d, &cart); err != nil {
		respondServerError(c, route, err)
		return
	}
	respondOK(c, message, cart)
}

func GetCart(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/cart"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		respondCart(c, d, route, "ok", cart)
	}
}

func AddCartItem(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/cart/items"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		var req addCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		productID, _ := primitive.ObjectIDFromHex(req.ProductID)
		sku := strings.ToUpper(strings.TrimSpace(req.VariantSKU))

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		filter := visibleProductFilter()
		filter["_id"] = productID
		product, err := decodeProduct(d.col(colProducts).FindOne(ctx, filter))
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if sku != "" {
			if _, found := product.FindVariant(sku); !found {
				respondWithError(c, http.StatusBadRequest, route, "variant not found")
				return
			}
		}

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		quantity := req.Quantity
		index := cart.FindLine(productID, sku)
		if index >= 0 {
			quantity += cart.Items[index].Quantity
		}
		if quantity > models.MaxCartItemQuantity {
			respondWithError(c, http.StatusBadRequest, route, "quantity exceeds the per item limit")
			return
		}
		if available := product.AvailableStock(sku); quantity > available {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "insufficient stock",
				"errors":  []gin.H{{"productId": productID.Hex(), "available": available, "requested": quantity}},
			})
			return
		}

		if index >= 0 {
			cart.Items[index].Quantity = quantity
		} else {
			cart.Items = append(cart.Items, models.CartItem{
				ID:         uuid.NewString(),
				ProductID:  productID,
				VariantSKU: sku,
				Name:       product.Name,
				Image:      product.PrimaryImage(),
				UnitPrice:  pricing.UnitPrice(product, sku),
				Quantity:   quantity,
				AddedAt:    d.now(),
			})
		}

		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}

		trackBehavior(d, userID, productID, models.BehaviorAddToCart)
		respondCart(c, d, route, "item added", cart)
	}
}

func UpdateCartItem(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/cart/items/:itemId"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		var req updateCartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		index := cart.FindItem(strings.TrimSpace(c.Param("itemId")))
		if index < 0 {
			respondWithError(c, http.StatusNotFound, route, "cart item not found")
			return
		}

		if *req.Quantity == 0 {
			cart.Items = append(cart.Items[:index], cart.Items[index+1:]...)
		} else {
			item := cart.Items[index]
			product, err := decodeProduct(d.col(colProducts).FindOne(ctx, bson.M{"_id": item.ProductID}))
			if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
				respondServerError(c, route, err)
				return
			}
			if available := product.AvailableStock(item.VariantSKU); *req.Quantity > available {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"success": false,
					"message": "insufficient stock",
					"errors":  []gin.H{{"productId": item.ProductID.Hex(), "available": available, "requested": *req.Quantity}},
				})
				return
			}
			cart.Items[index].Quantity = *req.Quantity
		}

		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondCart(c, d, route, "cart updated", cart)
	}
}

func RemoveCartItem(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/cart/items/:itemId"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		index := cart.FindItem(strings.TrimSpace(c.Param("itemId")))
		if index < 0 {
			respondWithError(c, http.StatusNotFound, route, "cart item not found")
			return
		}
		cart.Items = append(cart.Items[:index], cart.Items[index+1:]...)

		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondCart(c, d, route, "item removed", cart)
	}
}

func ClearCart(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/cart"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cart := models.Cart{UserID: userID, Items: []models.CartItem{}}
		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}
		cart.Totals = d.Pricing.Compute(nil, nil)
		respondOK(c, "cart cleared", cart)
	}
}

func ApplyCartCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/cart/coupon"

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

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if len(cart.Items) == 0 {
			respondWithError(c, http.StatusBadRequest, route, "cart is empty")
			return
		}

		coupon, err := findCoupon(ctx, d.DB, req.Code)
		if err != nil {
			respondCouponError(c, route, err)
			return
		}

		// Nothing is saved until the coupon is known to apply.
		cart.CouponCode = coupon.Code
		if _, err := priceFromCatalog(ctx, d, &cart, coupon); err != nil {
			respondServerError(c, route, err)
			return
		}
		if cart.CouponNote != "" {
			respondWithError(c, http.StatusBadRequest, route, cart.CouponNote)
			return
		}

		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondOK(c, "coupon applied", cart)
	}
}

func RemoveCartCoupon(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/cart/coupon"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cart, err := loadCart(ctx, d.DB, userID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		cart.CouponCode = ""
		if err := saveCart(ctx, d.DB, &cart, d.now()); err != nil {
			respondServerError(c, route, err)
			return
		}
		respondCart(c, d, route, "coupon removed", cart)
	}
}

func respondCouponError(c *gin.Context, route string, err error) {
	var couponErr *pricing.CouponError
	if errors.As(err, &couponErr) {
		status := http.StatusBadRequest
		if couponErr.Reason == pricing.CouponNotFound {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"success": false, "message": couponErr.Msg, "reason": couponErr.Reason})
		return
	}
	respondServerError(c, route, err)
}
