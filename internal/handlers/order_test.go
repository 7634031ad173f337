package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"storefront/internal/models"
	"storefront/internal/payment"
)

func shopper(t *testing.T) models.User {
	user := testUser(t, "correct-horse")
	user.Addresses = []models.Address{{
		ID:         "home",
		Type:       models.AddressShipping,
		FullName:   "Ada Lovelace",
		Line1:      "12 St James's Square",
		City:       "London",
		PostalCode: "SW1Y 4JH",
		Country:    "GB",
		IsDefault:  true,
	}}
	return user
}

func cardOrder(userID primitive.ObjectID, status, paymentStatus string) models.Order {
	return models.Order{
		ID:          primitive.NewObjectID(),
		OrderNumber: "ORD-20260504-KX7P2M",
		UserID:      userID,
		Email:       "ada@example.com",
		Items: []models.OrderItem{{
			ProductID: primitive.NewObjectID(),
			Name:      "Trail Shoe",
			SKU:       "TS-1",
			UnitPrice: 80,
			Quantity:  2,
			LineTotal: 160,
		}},
		Totals: models.OrderTotals{Subtotal: 160, Tax: 16, Total: 176},
		Payment: models.Payment{
			Method:          models.PaymentMethodCard,
			Status:          paymentStatus,
			Provider:        "stripe",
			PaymentIntentID: "pi_1",
			Amount:          176,
			Currency:        "USD",
		},
		Status:        status,
		StatusHistory: []models.StatusChange{{Status: models.StatusPending, At: testNow}},
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func commandNames(mt *mtest.T) []string {
	var names []string
	for _, evt := range mt.GetAllStartedEvents() {
		names = append(names, evt.CommandName)
	}
	return names
}

func TestCreateOrder(t *testing.T) {
	mt := newMockMongo(t)
	customer := shopper(t)

	setup := func(mt *mtest.T, gateway payment.Gateway) (http.Handler, string) {
		d, _ := newTestDeps(t, mt.DB)
		d.Payments = gateway
		r := newTestRouter(d, route{method: http.MethodPost, path: "/orders", handler: CreateOrder(d), authed: true})
		token, _, err := d.Issuer.Issue(customer.ID, customer.Email, customer.Role)
		require.NoError(t, err)
		return r, token
	}
	cartFor := func(product models.Product, qty int, coupon string) models.Cart {
		return models.Cart{
			ID:         primitive.NewObjectID(),
			UserID:     customer.ID,
			Items:      []models.CartItem{{ID: "line-1", ProductID: product.ID, Name: product.Name, UnitPrice: product.Price, Quantity: qty}},
			CouponCode: coupon,
		}
	}
	card := map[string]any{"paymentMethod": "card"}

	mt.Run("card payments switched off", func(mt *mtest.T) {
		r, token := setup(mt, payment.Disabled{})
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		w := performJSON(t, r, http.MethodPost, "/orders", card, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "card payments are not available", decodeBody(t, w)["message"])
	})

	mt.Run("insufficient stock", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		product := cartProduct(1)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			findResponse(t, colUsers, customer),
			findResponse(t, colCarts, cartFor(product, 2, "")),
			findResponse(t, colProducts, product),
		)

		w := performJSON(t, r, http.MethodPost, "/orders", card, token)
		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "insufficient stock", body["message"])
		detail := body["errors"].([]any)[0].(map[string]any)
		assert.Equal(t, product.ID.Hex(), detail["productId"])
		assert.Equal(t, float64(1), detail["available"])
		assert.Equal(t, float64(2), detail["requested"])
		assert.Empty(t, sentCommands(mt, "insert", colOrders))
		assert.NotContains(t, commandNames(mt), "commitTransaction")
	})

	mt.Run("coupon used up by a concurrent checkout", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		product := cartProduct(10)
		coupon := testCoupon(0)
		coupon.UsageLimit = 5
		coupon.UsedCount = 4
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			findResponse(t, colUsers, customer),
			findResponse(t, colCarts, cartFor(product, 2, coupon.Code)),
			findResponse(t, colProducts, product),
			updateResponse(1, 1),
			findResponse(t, colCoupons, coupon),
			mtest.CreateSuccessResponse(),
			updateResponse(0, 0),
		)

		w := performJSON(t, r, http.MethodPost, "/orders", card, token)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "usage_limit_reached", decodeBody(t, w)["reason"])
		assert.NotContains(t, commandNames(mt), "commitTransaction")
		assert.Empty(t, gateway.requests)
	})

	mt.Run("payment intent failure keeps the order", func(mt *mtest.T) {
		gateway := &fakeGateway{createErr: errors.New("stripe unavailable")}
		r, token := setup(mt, gateway)
		product := cartProduct(10)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			findResponse(t, colUsers, customer),
			findResponse(t, colCarts, cartFor(product, 2, "")),
			findResponse(t, colProducts, product),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
			updateResponse(1, 1),
		)

		w := performJSON(t, r, http.MethodPost, "/orders", card, token)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.NotEmpty(t, data["orderId"])

		require.Len(t, gateway.requests, 1)
		assert.Equal(t, int64(17600), gateway.requests[0].Amount)
		assert.Equal(t, data["orderId"], gateway.requests[0].OrderID)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		set := updates[0].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.PaymentFailed, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "stripe unavailable", set.Lookup("payment.failureMessage").StringValue())
	})

	mt.Run("card order returns the client secret", func(mt *mtest.T) {
		gateway := &fakeGateway{intent: payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method"}}
		r, token := setup(mt, gateway)
		product := cartProduct(10)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			findResponse(t, colUsers, customer),
			findResponse(t, colCarts, cartFor(product, 2, "")),
			findResponse(t, colProducts, product),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
			updateResponse(1, 1),
		)

		w := performJSON(t, r, http.MethodPost, "/orders", card, token)
		require.Equal(t, http.StatusCreated, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, "pi_1_secret", data["clientSecret"])
		order := data["order"].(map[string]any)
		assert.Equal(t, 176.0, order["totals"].(map[string]any)["total"])
		assert.Equal(t, "pi_1", order["payment"].(map[string]any)["paymentIntentId"])

		reserve := sentCommands(mt, "update", colProducts)
		require.Len(t, reserve, 1)
		assert.Equal(t, int64(-2), reserve[0].Lookup("updates", "0", "u", "$inc", "stock").AsInt64())
		assert.Contains(t, commandNames(mt), "commitTransaction")
	})
}

func TestCancelOrder(t *testing.T) {
	mt := newMockMongo(t)
	customer := testUser(t, "correct-horse")

	setup := func(mt *mtest.T, gateway *fakeGateway) (http.Handler, string) {
		d, _ := newTestDeps(t, mt.DB)
		d.Payments = gateway
		r := newTestRouter(d, route{method: http.MethodPost, path: "/orders/:id/cancel", handler: CancelOrder(d), authed: true})
		token, _, err := d.Issuer.Issue(customer.ID, customer.Email, customer.Role)
		require.NoError(t, err)
		return r, token
	}

	mt.Run("pending card order cancels the intent and restocks", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		order := cardOrder(customer.ID, models.StatusPending, models.PaymentPending)
		cancelled := order
		cancelled.Status = models.StatusCancelled
		cancelled.Payment.Status = models.PaymentCancelled
		mt.AddMockResponses(
			findResponse(t, colOrders, order),
			updateResponse(1, 1),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			findResponse(t, colOrders, cancelled),
		)

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", map[string]any{"reason": "changed my mind"}, token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.StatusCancelled, decodeBody(t, w)["data"].(map[string]any)["status"])
		assert.Equal(t, []string{"pi_1"}, gateway.cancels)
		assert.Empty(t, gateway.refunds)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		guarded := updates[0].Lookup("updates", "0")
		assert.Equal(t, models.StatusPending, guarded.Document().Lookup("q", "status").StringValue())
		set := guarded.Document().Lookup("u", "$set").Document()
		assert.Equal(t, models.StatusCancelled, set.Lookup("status").StringValue())
		assert.Equal(t, models.PaymentCancelled, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "changed my mind", guarded.Document().Lookup("u", "$push", "statusHistory", "note").StringValue())

		restock := sentCommands(mt, "update", colProducts)
		require.Len(t, restock, 1)
		assert.Equal(t, int64(2), restock[0].Lookup("updates", "0", "u", "$inc", "stock").AsInt64())
		_, err := restock[0].LookupErr("autocommit")
		assert.NoError(t, err, "restock runs inside the transaction")
		assert.Contains(t, commandNames(mt), "commitTransaction")
	})

	mt.Run("paid order is refunded", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		order := cardOrder(customer.ID, models.StatusConfirmed, models.PaymentPaid)
		cancelled := order
		cancelled.Status = models.StatusCancelled
		cancelled.Payment.Status = models.PaymentRefunded
		mt.AddMockResponses(
			findResponse(t, colOrders, order),
			updateResponse(1, 1),
			updateResponse(1, 1),
			mtest.CreateSuccessResponse(),
			findResponse(t, colOrders, cancelled),
		)

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", nil, token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"pi_1"}, gateway.refunds)
		assert.Empty(t, gateway.cancels)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		set := updates[0].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.PaymentRefunded, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "re_pi_1", set.Lookup("payment.refundId").StringValue())
		assert.Equal(t, "cancelled by customer", updates[0].Lookup("updates", "0", "u", "$push", "statusHistory", "note").StringValue())
	})

	mt.Run("settled payment is kept when the order moved on", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		order := cardOrder(customer.ID, models.StatusPending, models.PaymentPending)
		mt.AddMockResponses(
			findResponse(t, colOrders, order),
			updateResponse(0, 0),
			mtest.CreateSuccessResponse(),
			updateResponse(1, 1),
		)

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", nil, token)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, []string{"pi_1"}, gateway.cancels)
		assert.Empty(t, sentCommands(mt, "update", colProducts))

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 2)
		recorded := updates[1].Lookup("updates", "0")
		assert.Equal(t, order.ID, recorded.Document().Lookup("q", "_id").ObjectID())
		_, err := recorded.Document().LookupErr("q", "status")
		assert.Error(t, err)
		assert.Equal(t, models.PaymentCancelled, recorded.Document().Lookup("u", "$set", "payment.status").StringValue())
	})

	mt.Run("intent cancel failure leaves the order open", func(mt *mtest.T) {
		gateway := &fakeGateway{cancelErr: errors.New("stripe unavailable")}
		r, token := setup(mt, gateway)
		order := cardOrder(customer.ID, models.StatusPending, models.PaymentPending)
		mt.AddMockResponses(findResponse(t, colOrders, order))

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", nil, token)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Empty(t, sentCommands(mt, "update", colOrders))
		assert.Empty(t, sentCommands(mt, "update", colProducts))
	})

	mt.Run("shipped order", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		order := cardOrder(customer.ID, models.StatusShipped, models.PaymentPaid)
		mt.AddMockResponses(findResponse(t, colOrders, order))

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", nil, token)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Empty(t, gateway.refunds)
	})

	mt.Run("someone else's order", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		order := cardOrder(primitive.NewObjectID(), models.StatusPending, models.PaymentPending)
		mt.AddMockResponses(findResponse(t, colOrders, order))

		w := performJSON(t, r, http.MethodPost, "/orders/"+order.ID.Hex()+"/cancel", nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	mt.Run("reason too long", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		body := map[string]any{"reason": strings.Repeat("x", 501)}
		w := performJSON(t, r, http.MethodPost, "/orders/"+primitive.NewObjectID().Hex()+"/cancel", body, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, sentCommands(mt, "find", colOrders))
	})

	mt.Run("malformed body", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		w := performJSON(t, r, http.MethodPost, "/orders/"+primitive.NewObjectID().Hex()+"/cancel", map[string]any{"reason": 7}, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUpdateOrderStatus(t *testing.T) {
	mt := newMockMongo(t)
	admin := testUser(t, "correct-horse")
	admin.Role = models.RoleAdmin

	setup := func(mt *mtest.T, gateway *fakeGateway) (http.Handler, string) {
		d, _ := newTestDeps(t, mt.DB)
		d.Payments = gateway
		r := newTestRouter(d, route{method: http.MethodPatch, path: "/orders/:id/status", handler: UpdateOrderStatus(d), authed: true})
		token, _, err := d.Issuer.Issue(admin.ID, admin.Email, admin.Role)
		require.NoError(t, err)
		return r, token
	}

	mt.Run("moves forward with a tracking number", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		order := cardOrder(primitive.NewObjectID(), models.StatusProcessing, models.PaymentPaid)
		shipped := order
		shipped.Status = models.StatusShipped
		shipped.TrackingNumber = "1Z999"
		mt.AddMockResponses(findResponse(t, colOrders, order), updateResponse(1, 1), findResponse(t, colOrders, shipped))

		w := performJSON(t, r, http.MethodPatch, "/orders/"+order.ID.Hex()+"/status", map[string]any{"status": "Shipped", "trackingNumber": "1Z999"}, token)
		require.Equal(t, http.StatusOK, w.Code)
		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		set := updates[0].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.StatusShipped, set.Lookup("status").StringValue())
		assert.Equal(t, "1Z999", set.Lookup("trackingNumber").StringValue())
	})

	mt.Run("transition not allowed", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		order := cardOrder(primitive.NewObjectID(), models.StatusDelivered, models.PaymentPaid)
		mt.AddMockResponses(findResponse(t, colOrders, order))

		w := performJSON(t, r, http.MethodPatch, "/orders/"+order.ID.Hex()+"/status", map[string]any{"status": "shipped"}, token)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Empty(t, sentCommands(mt, "update", colOrders))
	})

	mt.Run("unknown status", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{})
		w := performJSON(t, r, http.MethodPatch, "/orders/"+primitive.NewObjectID().Hex()+"/status", map[string]any{"status": "lost"}, token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	mt.Run("refund is recorded when the status update loses a race", func(mt *mtest.T) {
		gateway := &fakeGateway{}
		r, token := setup(mt, gateway)
		order := cardOrder(primitive.NewObjectID(), models.StatusShipped, models.PaymentPaid)
		mt.AddMockResponses(findResponse(t, colOrders, order), updateResponse(0, 0), updateResponse(1, 1))

		w := performJSON(t, r, http.MethodPatch, "/orders/"+order.ID.Hex()+"/status", map[string]any{"status": "refunded"}, token)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, []string{"pi_1"}, gateway.refunds)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 2)
		assert.Equal(t, models.StatusShipped, updates[0].Lookup("updates", "0", "q", "status").StringValue())
		set := updates[1].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.PaymentRefunded, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "re_pi_1", set.Lookup("payment.refundId").StringValue())
		_, err := set.LookupErr("status")
		assert.Error(t, err)
	})

	mt.Run("refund failure keeps the order", func(mt *mtest.T) {
		r, token := setup(mt, &fakeGateway{refundErr: errors.New("card_declined")})
		order := cardOrder(primitive.NewObjectID(), models.StatusDelivered, models.PaymentPaid)
		mt.AddMockResponses(findResponse(t, colOrders, order))

		w := performJSON(t, r, http.MethodPatch, "/orders/"+order.ID.Hex()+"/status", map[string]any{"status": "refunded"}, token)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Empty(t, sentCommands(mt, "update", colOrders))
	})
}
