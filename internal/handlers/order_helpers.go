package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/events"
	"storefront/internal/mailer"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/pricing"
)

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	errEmptyCart     = errors.New("cart is empty")
	errOrderConflict = errors.New("order status changed concurrently")
	errRefundFailed  = errors.New("refund failed")

	errPaymentCancelFailed = errors.New("payment could not be cancelled")
)

type outOfStockError struct {
	ProductID  primitive.ObjectID
	VariantSKU string
	Available  int
	Requested  int
}

func (e outOfStockError) Error() string {
	return "product out of stock"
}

type productNotFoundError struct {
	ProductID  primitive.ObjectID
	VariantSKU string
}

func (e productNotFoundError) Error() string {
	return "product not found"
}

// newOrderNumber returns ORD-YYYYMMDD-XXXXXX using an alphabet without
// look-alike characters.
func newOrderNumber(now time.Time) string {
	raw := uuid.New()
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = orderNumberAlphabet[int(raw[i])%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

// stockFilter matches the product or variant only while at least qty units
// remain.
func stockFilter(productID primitive.ObjectID, variantSKU string, qty int) (bson.M, string) {
	filter := bson.M{"_id": productID, "isDeleted": bson.M{"$ne": true}}
	if variantSKU == "" {
		filter["stock"] = bson.M{"$gte": qty}
		return filter, "stock"
	}
	filter["variants"] = bson.M{"$elemMatch": bson.M{"sku": variantSKU, "stock": bson.M{"$gte": qty}}}
	return filter, "variants.$.stock"
}

func reserveStock(ctx context.Context, db *mongo.Database, item models.OrderItem) (bool, error) {
	filter, field := stockFilter(item.ProductID, item.VariantSKU, item.Quantity)
	res, err := db.Collection(colProducts).UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{field: -item.Quantity, "soldCount": item.Quantity},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

func restockItems(ctx context.Context, db *mongo.Database, items []models.OrderItem) error {
	for _, item := range items {
		filter := bson.M{"_id": item.ProductID}
		field := "stock"
		if item.VariantSKU != "" {
			filter["variants.sku"] = item.VariantSKU
			field = "variants.$.stock"
		}
		if _, err := db.Collection(colProducts).UpdateOne(ctx, filter, bson.M{
			"$inc": bson.M{field: item.Quantity, "soldCount": -item.Quantity},
		}); err != nil {
			return err
		}
	}
	return nil
}

func findOrder(ctx context.Context, db *mongo.Database, filter bson.M) (models.Order, error) {
	var order models.Order
	err := db.Collection(colOrders).FindOne(ctx, filter).Decode(&order)
	return order, err
}

type statusChange struct {
	To             string
	Note           string
	By             *primitive.ObjectID
	TrackingNumber string
	// Quiet skips the status email when the caller sends its own.
	Quiet bool
}

// settlePayment runs the gateway side of a cancellation or refund. A captured
// card payment is refunded and an open intent is cancelled so it can no
// longer be paid. It returns the payment fields to store with the order.
func settlePayment(ctx context.Context, d *Deps, order models.Order) (bson.M, error) {
	intentID := order.Payment.PaymentIntentID
	if intentID == "" {
		return nil, nil
	}

	switch order.Payment.Status {
	case models.PaymentPaid:
		refund, err := d.Payments.Refund(ctx, intentID, pricing.MinorUnits(order.Totals.Total))
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID.Hex()).Msg("refund failed")
			return nil, fmt.Errorf("%w: %v", errRefundFailed, err)
		}
		return bson.M{
			"payment.status":     models.PaymentRefunded,
			"payment.refundId":   refund.ID,
			"payment.refundedAt": d.now(),
		}, nil
	case models.PaymentPending, models.PaymentFailed:
		if _, err := d.Payments.CancelIntent(ctx, intentID); err != nil {
			log.Error().Err(err).Str("order_id", order.ID.Hex()).Msg("payment intent cancel failed")
			return nil, fmt.Errorf("%w: %v", errPaymentCancelFailed, err)
		}
		return bson.M{"payment.status": models.PaymentCancelled}, nil
	}
	return nil, nil
}

// recordPayment stores gateway side effects on their own when the status
// update that should have carried them did not apply.
func recordPayment(ctx context.Context, d *Deps, orderID primitive.ObjectID, fields bson.M) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbTimeout)
	defer cancel()

	set := bson.M{"updatedAt": d.now()}
	for k, v := range fields {
		set[k] = v
	}
	if _, err := d.col(colOrders).UpdateOne(ctx, bson.M{"_id": orderID}, bson.M{"$set": set}); err != nil {
		log.Error().Err(err).Str("order_id", orderID.Hex()).Interface("payment", fields).Msg("payment outcome not recorded")
	}
}

// transitionOrder moves order to change.To. The update only applies while
// the stored status still equals order.Status. Cancellation restocks in the
// same transaction. Cancellation and refund settle the card payment with the
// gateway first.
func transitionOrder(ctx context.Context, d *Deps, order models.Order, change statusChange) (models.Order, error) {
	if err := models.CheckTransition(order.Status, change.To); err != nil {
		return models.Order{}, err
	}

	now := d.now()
	set := bson.M{"status": change.To, "updatedAt": now}
	if change.TrackingNumber != "" {
		set["trackingNumber"] = change.TrackingNumber
	}

	var settled bson.M
	if change.To == models.StatusCancelled || change.To == models.StatusRefunded {
		var err error
		if settled, err = settlePayment(ctx, d, order); err != nil {
			return models.Order{}, err
		}
		for k, v := range settled {
			set[k] = v
		}
	}

	entry := models.StatusChange{Status: change.To, Note: change.Note, At: now, By: change.By}
	update := bson.M{"$set": set, "$push": bson.M{"statusHistory": entry}}
	guard := bson.M{"_id": order.ID, "status": order.Status}

	apply := func(sc context.Context) error {
		res, err := d.col(colOrders).UpdateOne(sc, guard, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errOrderConflict
		}
		if change.To == models.StatusCancelled {
			return restockItems(sc, d.DB, order.Items)
		}
		return nil
	}

	var err error
	if change.To == models.StatusCancelled {
		err = withTransaction(ctx, d, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		if len(settled) > 0 {
			recordPayment(ctx, d, order.ID, settled)
		}
		return models.Order{}, err
	}

	updated, err := findOrder(ctx, d.DB, bson.M{"_id": order.ID})
	if err != nil {
		return models.Order{}, err
	}

	if change.To == models.StatusCancelled {
		invalidateProductCache(ctx, d)
	}
	d.publish(events.OrderStatusChanged, updated.ID.Hex(), map[string]string{
		"orderNumber": updated.OrderNumber,
		"from":        order.Status,
		"to":          change.To,
	})
	if !change.Quiet {
		d.notify("order_status", func(n *mailer.Notifier, ctx context.Context) error {
			return n.OrderStatus(ctx, updated, change.Note)
		})
	}

	return updated, nil
}

func withTransaction(ctx context.Context, d *Deps, fn func(sc context.Context) error) error {
	session, err := d.DB.Client().StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// markPaid records a captured payment and confirms a pending order. Money
// captured after the order was closed is refunded instead.
func markPaid(ctx context.Context, d *Deps, order models.Order) (models.Order, error) {
	if order.Payment.Status == models.PaymentPaid || order.Payment.Status == models.PaymentRefunded {
		return order, nil
	}
	if order.Status == models.StatusCancelled || order.Status == models.StatusRefunded {
		return refundLateCapture(ctx, d, order)
	}

	now := d.now()
	res, err := d.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": order.ID, "payment.status": bson.M{"$nin": bson.A{models.PaymentPaid, models.PaymentRefunded}}},
		bson.M{"$set": bson.M{"payment.status": models.PaymentPaid, "payment.paidAt": now, "updatedAt": now}, "$unset": bson.M{"payment.failureMessage": ""}},
	)
	if err != nil {
		return models.Order{}, err
	}
	if res.ModifiedCount == 0 {
		return findOrder(ctx, d.DB, bson.M{"_id": order.ID})
	}
	order.Payment.Status = models.PaymentPaid
	order.Payment.PaidAt = &now

	if order.Status == models.StatusPending {
		confirmed, err := transitionOrder(ctx, d, order, statusChange{To: models.StatusConfirmed, Note: "payment received", Quiet: true})
		if err != nil && !errors.Is(err, errOrderConflict) {
			return models.Order{}, err
		}
		if err == nil {
			order = confirmed
		}
	}

	name := order.ShippingAddress.FullName
	d.notify("order_confirmation", func(n *mailer.Notifier, ctx context.Context) error {
		return n.OrderConfirmation(ctx, order, name)
	})
	return order, nil
}

// refundLateCapture returns a payment that succeeded after its order was
// cancelled. The stock is already back on the shelf, so the order stays
// closed.
func refundLateCapture(ctx context.Context, d *Deps, order models.Order) (models.Order, error) {
	refund, err := d.Payments.Refund(ctx, order.Payment.PaymentIntentID, pricing.MinorUnits(order.Totals.Total))
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID.Hex()).Msg("late capture refund failed")
		return models.Order{}, fmt.Errorf("%w: %v", errRefundFailed, err)
	}

	now := d.now()
	if _, err := d.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": order.ID, "payment.status": bson.M{"$ne": models.PaymentRefunded}},
		bson.M{"$set": bson.M{
			"payment.status":     models.PaymentRefunded,
			"payment.paidAt":     now,
			"payment.refundId":   refund.ID,
			"payment.refundedAt": now,
			"updatedAt":          now,
		}},
	); err != nil {
		return models.Order{}, err
	}
	log.Warn().Str("order", order.OrderNumber).Str("status", order.Status).Str("refund_id", refund.ID).Msg("payment captured on a closed order was refunded")
	return findOrder(ctx, d.DB, bson.M{"_id": order.ID})
}

func markPaymentFailed(ctx context.Context, d *Deps, order models.Order, message string) error {
	_, err := d.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": order.ID, "payment.status": models.PaymentPending},
		bson.M{"$set": bson.M{"payment.status": models.PaymentFailed, "payment.failureMessage": message, "updatedAt": d.now()}},
	)
	return err
}

func markRefunded(ctx context.Context, d *Deps, order models.Order) error {
	now := d.now()
	_, err := d.col(colOrders).UpdateOne(ctx,
		bson.M{"_id": order.ID, "payment.status": bson.M{"$ne": models.PaymentRefunded}},
		bson.M{"$set": bson.M{"payment.status": models.PaymentRefunded, "payment.refundedAt": now, "updatedAt": now}},
	)
	return err
}

// applyIntent maps a gateway payment intent onto the order.
func applyIntent(ctx context.Context, d *Deps, order models.Order, intent payment.Intent) (models.Order, error) {
	switch {
	case intent.Succeeded():
		return markPaid(ctx, d, order)
	case intent.FailureMessage != "" || intent.Status == "canceled":
		msg := intent.FailureMessage
		if msg == "" {
			msg = "payment " + intent.Status
		}
		if err := markPaymentFailed(ctx, d, order, msg); err != nil {
			return models.Order{}, err
		}
		return findOrder(ctx, d.DB, bson.M{"_id": order.ID})
	default:
		return order, nil
	}
}
