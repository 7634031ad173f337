package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
	"storefront/internal/payment"
)

const maxWebhookBody = 64 << 10

// StripeWebhook verifies the signature and applies payment events to orders.
// Events for unknown intents and unhandled types are acknowledged.
func StripeWebhook(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/payments/webhook"

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(c, http.StatusRequestEntityTooLarge, route, "payload too large")
				return
			}
			respondWithError(c, http.StatusBadRequest, route, "invalid body")
			return
		}

		event, err := d.Payments.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
		switch {
		case errors.Is(err, payment.ErrPaymentsDisabled):
			respondWithError(c, http.StatusServiceUnavailable, route, err.Error())
			return
		case err != nil:
			respondWithError(c, http.StatusBadRequest, route, "invalid signature")
			return
		}

		logger := log.With().Str("route", route).Str("event_id", event.ID).Str("type", event.Type).Logger()

		if event.PaymentIntentID == "" {
			logger.Debug().Msg("webhook ignored")
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		order, err := findOrder(ctx, d.DB, bson.M{"payment.paymentIntentId": event.PaymentIntentID})
		if errors.Is(err, mongo.ErrNoDocuments) {
			logger.Warn().Str("intent", event.PaymentIntentID).Msg("webhook for unknown payment intent")
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		switch event.Type {
		case payment.EventPaymentSucceeded:
			_, err = markPaid(ctx, d, order)
		case payment.EventPaymentFailed:
			err = markPaymentFailed(ctx, d, order, event.FailureMessage)
		case payment.EventChargeRefunded:
			err = markRefunded(ctx, d, order)
		default:
			logger.Debug().Msg("webhook ignored")
		}
		if err != nil {
			// A 5xx makes Stripe retry the delivery.
			respondServerError(c, route, err)
			return
		}

		logger.Info().Str("order", order.OrderNumber).Msg("webhook applied")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

// ConfirmPayment polls the gateway for clients that cannot wait for the
// webhook.
func ConfirmPayment(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/payments/orders/:id/confirm-payment"

		order, ok := loadOrderFor(c, d, route)
		if !ok {
			return
		}
		if order.Payment.Method != models.PaymentMethodCard || order.Payment.PaymentIntentID == "" {
			respondWithError(c, http.StatusBadRequest, route, "order has no card payment")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		intent, err := d.Payments.GetIntent(ctx, order.Payment.PaymentIntentID)
		if err != nil {
			log.Error().Err(err).Str("route", route).Str("order", order.OrderNumber).Msg("payment intent lookup failed")
			respondWithError(c, http.StatusBadGateway, route, "payment provider unavailable")
			return
		}

		updated, err := applyIntent(ctx, d, order, intent)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "payment status "+intent.Status, gin.H{"order": updated, "paymentStatus": intent.Status})
	}
}
