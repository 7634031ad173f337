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

	"storefront/internal/events"
	"storefront/internal/mailer"
	"storefront/internal/middleware"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/pricing"
)

type createOrderRequest struct {
	ShippingAddress   *addressRequest `json:"shippingAddress"`
	ShippingAddressID string          `json:"shippingAddressId"`
	BillingAddress    *addressRequest `json:"billingAddress"`
	PaymentMethod     string          `json:"paymentMethod" binding:"required,oneof=card cash_on_delivery"`
	Notes             string          `json:"notes" binding:"max=500"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

var errNoShippingAddress = errors.New("shipping address is required")

// resolveAddresses picks the shipping address from the request, a saved
// address id or the default, and billing from the request, the default
// billing address or shipping.
func resolveAddresses(user models.User, req createOrderRequest) (models.Address, models.Address, error) {
	var shipping models.Address
	switch {
	case req.ShippingAddress != nil:
		shipping = req.ShippingAddress.toAddress("")
		shipping.Type = models.AddressShipping
	case strings.TrimSpace(req.ShippingAddressID) != "":
		addr, ok := user.FindAddress(strings.TrimSpace(req.ShippingAddressID))
		if !ok {
			return models.Address{}, models.Address{}, errors.New("shipping address not found")
		}
		shipping = addr
	default:
		addr, ok := user.DefaultAddress(models.AddressShipping)
		if !ok {
			return models.Address{}, models.Address{}, errNoShippingAddress
		}
		shipping = addr
	}

	billing := shipping
	if req.BillingAddress != nil {
		billing = req.BillingAddress.toAddress("")
	} else if addr, ok := user.DefaultAddress(models.AddressBilling); ok {
		billing = addr
	}
	billing.Type = models.AddressBilling
	return shipping, billing, nil
}

func CreateOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/orders"

		if err := ensureDBConnection(c.Request.Context(), d.DB); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, "database unavailable")
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		if req.PaymentMethod == models.PaymentMethodCard {
			if _, disabled := d.Payments.(payment.Disabled); disabled {
				respondWithError(c, http.StatusBadRequest, route, "card payments are not available")
				return
			}
		}

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}
		shipping, billing, err := resolveAddresses(user, req)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		cart, err := loadCart(ctx, d.DB, user.ID)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if len(cart.Items) == 0 {
			respondWithError(c, http.StatusBadRequest, route, errEmptyCart.Error())
			return
		}

		now := d.now()
		order := models.Order{
			ID:              primitive.NewObjectID(),
			OrderNumber:     newOrderNumber(now),
			UserID:          user.ID,
			Email:           user.Email,
			ShippingAddress: shipping,
			BillingAddress:  billing,
			Payment: models.Payment{
				Method:   req.PaymentMethod,
				Status:   models.PaymentPending,
				Currency: d.Currency,
			},
			Status:        models.StatusPending,
			StatusHistory: []models.StatusChange{{Status: models.StatusPending, Note: "order placed", At: now, By: &user.ID}},
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		session, err := d.DB.Client().StartSession()
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			items := make([]models.OrderItem, 0, len(cart.Items))
			lines := make([]pricing.Line, 0, len(cart.Items))

			for _, line := range cart.Items {
				product, err := decodeProduct(d.col(colProducts).FindOne(sc, bson.M{
					"_id":       line.ProductID,
					"isActive":  true,
					"isDeleted": bson.M{"$ne": true},
				}))
				if errors.Is(err, mongo.ErrNoDocuments) {
					return nil, productNotFoundError{ProductID: line.ProductID}
				}
				if err != nil {
					return nil, err
				}
				if line.VariantSKU != "" {
					if _, found := product.FindVariant(line.VariantSKU); !found {
						return nil, productNotFoundError{ProductID: line.ProductID, VariantSKU: line.VariantSKU}
					}
				}

				available := product.AvailableStock(line.VariantSKU)
				if available < line.Quantity {
					return nil, outOfStockError{ProductID: line.ProductID, VariantSKU: line.VariantSKU, Available: available, Requested: line.Quantity}
				}

				unitPrice := pricing.UnitPrice(product, line.VariantSKU)
				item := models.OrderItem{
					ProductID:  product.ID,
					Name:       product.Name,
					SKU:        product.SKU,
					VariantSKU: line.VariantSKU,
					Image:      product.PrimaryImage(),
					UnitPrice:  unitPrice,
					Quantity:   line.Quantity,
					LineTotal:  pricing.LineTotal(unitPrice, line.Quantity),
				}

				reserved, err := reserveStock(sc, d.DB, item)
				if err != nil {
					return nil, err
				}
				if !reserved {
					return nil, outOfStockError{ProductID: line.ProductID, VariantSKU: line.VariantSKU, Available: available, Requested: line.Quantity}
				}

				items = append(items, item)
				lines = append(lines, pricing.Line{UnitPrice: unitPrice, Quantity: line.Quantity})
			}

			var coupon *models.Coupon
			if cart.CouponCode != "" {
				found, err := findCoupon(sc, d.DB, cart.CouponCode)
				if err != nil {
					return nil, err
				}
				subtotal := d.Pricing.Compute(lines, nil).Subtotal
				if err := pricing.CheckCoupon(*found, user.ID, subtotal, now); err != nil {
					return nil, err
				}
				coupon = found
				order.CouponCode = found.Code
			}

			order.Items = items
			order.Totals = d.Pricing.Compute(lines, coupon)
			order.Payment.Amount = order.Totals.Total

			if _, err := d.col(colOrders).InsertOne(sc, order); err != nil {
				return nil, err
			}

			if coupon != nil {
				res, err := d.col(colCoupons).UpdateOne(sc,
					bson.M{"_id": coupon.ID, "$or": bson.A{
						bson.M{"usageLimit": 0},
						bson.M{"$expr": bson.M{"$lt": bson.A{"$usedCount", "$usageLimit"}}},
					}},
					bson.M{
						"$inc":  bson.M{"usedCount": 1},
						"$push": bson.M{"usedBy": models.CouponUse{UserID: user.ID, OrderID: order.ID, UsedAt: now}},
					},
				)
				if err != nil {
					return nil, err
				}
				if res.MatchedCount == 0 {
					return nil, &pricing.CouponError{Reason: pricing.CouponExhausted, Msg: "coupon usage limit reached"}
				}
			}

			_, err := d.col(colCarts).UpdateOne(sc,
				bson.M{"userId": user.ID},
				bson.M{"$set": bson.M{"items": []models.CartItem{}, "couponCode": "", "updatedAt": now}},
			)
			return nil, err
		})
		if err != nil {
			respondOrderError(c, route, err)
			return
		}

		invalidateProductCache(ctx, d)
		for _, item := range order.Items {
			trackBehavior(d, user.ID, item.ProductID, models.BehaviorPurchase)
		}
		d.publish(events.OrderCreated, order.ID.Hex(), map[string]any{
			"orderNumber": order.OrderNumber,
			"userId":      user.ID.Hex(),
			"total":       order.Totals.Total,
			"items":       len(order.Items),
		})
		log.Info().Str("route", route).Str("order", order.OrderNumber).Float64("total", order.Totals.Total).Msg("order created")

		response := gin.H{"order": order}

		if order.Payment.Method == models.PaymentMethodCard {
			intent, err := d.Payments.CreateIntent(ctx, payment.IntentRequest{
				Amount:      pricing.MinorUnits(order.Totals.Total),
				Currency:    d.Currency,
				OrderID:     order.ID.Hex(),
				OrderNumber: order.OrderNumber,
				Email:       order.Email,
			})
			if err != nil {
				log.Error().Err(err).Str("route", route).Str("order", order.OrderNumber).Msg("payment intent failed")
				if markErr := markPaymentFailed(ctx, d, order, err.Error()); markErr != nil {
					log.Error().Err(markErr).Str("order", order.OrderNumber).Msg("payment failure not recorded")
				}
				c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
					"success": false,
					"message": "payment could not be initiated",
					"data":    gin.H{"orderId": order.ID.Hex(), "orderNumber": order.OrderNumber},
				})
				return
			}

			if _, err := d.col(colOrders).UpdateByID(ctx, order.ID, bson.M{"$set": bson.M{
				"payment.provider":        "stripe",
				"payment.paymentIntentId": intent.ID,
			}}); err != nil {
				respondServerError(c, route, err)
				return
			}
			order.Payment.Provider = "stripe"
			order.Payment.PaymentIntentID = intent.ID
			response["clientSecret"] = intent.ClientSecret
		} else {
			name := user.Name
			d.notify("order_confirmation", func(n *mailer.Notifier, ctx context.Context) error {
				return n.OrderConfirmation(ctx, order, name)
			})
		}

		respondCreated(c, "order created", response)
	}
}

func respondOrderError(c *gin.Context, route string, err error) {
	var stockErr outOfStockError
	if errors.As(err, &stockErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "insufficient stock",
			"errors": []gin.H{{
				"productId":  stockErr.ProductID.Hex(),
				"variantSku": stockErr.VariantSKU,
				"available":  stockErr.Available,
				"requested":  stockErr.Requested,
			}},
		})
		return
	}
	var notFoundErr productNotFoundError
	if errors.As(err, &notFoundErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "product not found",
			"errors":  []gin.H{{"productId": notFoundErr.ProductID.Hex(), "variantSku": notFoundErr.VariantSKU}},
		})
		return
	}
	var couponErr *pricing.CouponError
	if errors.As(err, &couponErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": couponErr.Msg, "reason": couponErr.Reason})
		return
	}
	respondServerError(c, route, err)
}

func GetMyOrders(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/orders"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		filter := bson.M{"userId": userID}
		if status := strings.TrimSpace(c.Query("status")); status != "" {
			if !models.IsValidOrderStatus(status) {
				respondWithError(c, http.StatusBadRequest, route, "invalid status")
				return
			}
			filter["status"] = status
		}

		listOrders(c, d, route, filter, page)
	}
}

func listOrders(c *gin.Context, d *Deps, route string, filter bson.M, page pagination) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	total, err := d.col(colOrders).CountDocuments(ctx, filter)
	if err != nil {
		respondServerError(c, route, err)
		return
	}

	cursor, err := d.col(colOrders).Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(page.skip()).
		SetLimit(page.Limit))
	if err != nil {
		respondServerError(c, route, err)
		return
	}
	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		respondServerError(c, route, err)
		return
	}

	respondPage(c, orders, page, total)
}

// loadOrderFor returns the order when the caller owns it or is an admin.
func loadOrderFor(c *gin.Context, d *Deps, route string) (models.Order, bool) {
	id, ok := parseObjectIDParam(c, "id", route)
	if !ok {
		return models.Order{}, false
	}
	userID, ok := requireUserID(c, route)
	if !ok {
		return models.Order{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	order, err := findOrder(ctx, d.DB, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && order.UserID != userID && !middleware.IsAdmin(c)) {
		respondWithError(c, http.StatusNotFound, route, "order not found")
		return models.Order{}, false
	}
	if err != nil {
		respondServerError(c, route, err)
		return models.Order{}, false
	}
	return order, true
}

func GetOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := loadOrderFor(c, d, "GET /api/v1/orders/:id")
		if !ok {
			return
		}
		respondOK(c, "ok", order)
	}
}

func CancelOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/orders/:id/cancel"

		var req cancelOrderRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			respondValidationError(c, err)
			return
		}

		order, ok := loadOrderFor(c, d, route)
		if !ok {
			return
		}
		userID, _ := middleware.CurrentUserID(c)
		if order.UserID != userID {
			respondWithError(c, http.StatusNotFound, route, "order not found")
			return
		}
		if !models.IsCancellable(order.Status) {
			respondWithError(c, http.StatusConflict, route, "order can no longer be cancelled")
			return
		}

		note := strings.TrimSpace(req.Reason)
		if note == "" {
			note = "cancelled by customer"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		updated, err := transitionOrder(ctx, d, order, statusChange{To: models.StatusCancelled, Note: note, By: &userID})
		if err != nil {
			respondTransitionError(c, route, err)
			return
		}
		respondOK(c, "order cancelled", updated)
	}
}

func respondTransitionError(c *gin.Context, route string, err error) {
	var transitionErr models.ErrInvalidTransition
	switch {
	case errors.Is(err, models.ErrInvalidStatus):
		respondWithError(c, http.StatusBadRequest, route, err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, errOrderConflict):
		respondWithError(c, http.StatusConflict, route, err.Error())
	case errors.Is(err, errRefundFailed):
		respondWithError(c, http.StatusBadGateway, route, "refund could not be issued")
	case errors.Is(err, errPaymentCancelFailed):
		respondWithError(c, http.StatusBadGateway, route, "payment could not be cancelled")
	default:
		respondServerError(c, route, err)
	}
}
