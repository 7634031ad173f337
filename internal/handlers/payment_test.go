package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"storefront/internal/mailer"
	"storefront/internal/models"
	"storefront/internal/payment"
)

func TestStripeWebhook(t *testing.T) {
	mt := newMockMongo(t)
	userID := primitive.NewObjectID()
	payload := []byte(`{"id":"evt_1"}`)

	setup := func(mt *mtest.T, gateway *fakeGateway) (http.Handler, *recordingMailer) {
		d, _ := newTestDeps(t, mt.DB)
		d.Payments = gateway
		outbox := &recordingMailer{}
		d.Notifier = mailer.NewNotifier(outbox, "https://shop.test")
		return newTestRouter(d, route{method: http.MethodPost, path: "/payments/webhook", handler: StripeWebhook(d)}), outbox
	}
	event := func(kind string) payment.WebhookEvent {
		return payment.WebhookEvent{ID: "evt_1", Type: kind, PaymentIntentID: "pi_1"}
	}

	mt.Run("payment succeeded confirms the order once", func(mt *mtest.T) {
		r, outbox := setup(mt, &fakeGateway{event: event(payment.EventPaymentSucceeded)})
		order := cardOrder(userID, models.StatusPending, models.PaymentPending)
		confirmed := order
		confirmed.Status = models.StatusConfirmed
		confirmed.Payment.Status = models.PaymentPaid
		mt.AddMockResponses(
			findResponse(t, colOrders, order),
			updateResponse(1, 1),
			updateResponse(1, 1),
			findResponse(t, colOrders, confirmed),
		)

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		require.Equal(t, http.StatusOK, w.Code)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 2)
		assert.Equal(t, models.PaymentPaid, updates[0].Lookup("updates", "0", "u", "$set", "payment.status").StringValue())
		assert.Equal(t, models.StatusConfirmed, updates[1].Lookup("updates", "0", "u", "$set", "status").StringValue())

		want := []string{"Order " + order.OrderNumber + " confirmed"}
		assert.Eventually(t, func() bool { return len(outbox.sent()) == 1 }, time.Second, 10*time.Millisecond)
		assert.Never(t, func() bool { return len(outbox.sent()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
		assert.Equal(t, want, outbox.sent())
	})

	mt.Run("payment after cancellation is refunded", func(mt *mtest.T) {
		gateway := &fakeGateway{event: event(payment.EventPaymentSucceeded)}
		r, outbox := setup(mt, gateway)
		order := cardOrder(userID, models.StatusCancelled, models.PaymentCancelled)
		refunded := order
		refunded.Payment.Status = models.PaymentRefunded
		mt.AddMockResponses(
			findResponse(t, colOrders, order),
			updateResponse(1, 1),
			findResponse(t, colOrders, refunded),
		)

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"pi_1"}, gateway.refunds)

		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		set := updates[0].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.PaymentRefunded, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "re_pi_1", set.Lookup("payment.refundId").StringValue())
		_, err := set.LookupErr("status")
		assert.Error(t, err, "the order stays cancelled")

		assert.Never(t, func() bool { return len(outbox.sent()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	})

	mt.Run("late capture refund failure asks for a retry", func(mt *mtest.T) {
		gateway := &fakeGateway{event: event(payment.EventPaymentSucceeded), refundErr: errors.New("stripe unavailable")}
		r, _ := setup(mt, gateway)
		mt.AddMockResponses(findResponse(t, colOrders, cardOrder(userID, models.StatusCancelled, models.PaymentCancelled)))

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, sentCommands(mt, "update", colOrders))
	})

	mt.Run("already paid is a no-op", func(mt *mtest.T) {
		r, outbox := setup(mt, &fakeGateway{event: event(payment.EventPaymentSucceeded)})
		mt.AddMockResponses(findResponse(t, colOrders, cardOrder(userID, models.StatusConfirmed, models.PaymentPaid)))

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, sentCommands(mt, "update", colOrders))
		assert.Never(t, func() bool { return len(outbox.sent()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	})

	mt.Run("payment failed", func(mt *mtest.T) {
		ev := event(payment.EventPaymentFailed)
		ev.FailureMessage = "Your card was declined."
		r, _ := setup(mt, &fakeGateway{event: ev})
		mt.AddMockResponses(findResponse(t, colOrders, cardOrder(userID, models.StatusPending, models.PaymentPending)), updateResponse(1, 1))

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		require.Equal(t, http.StatusOK, w.Code)
		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		assert.Equal(t, models.PaymentPending, updates[0].Lookup("updates", "0", "q", "payment.status").StringValue())
		set := updates[0].Lookup("updates", "0", "u", "$set").Document()
		assert.Equal(t, models.PaymentFailed, set.Lookup("payment.status").StringValue())
		assert.Equal(t, "Your card was declined.", set.Lookup("payment.failureMessage").StringValue())
	})

	mt.Run("charge refunded", func(mt *mtest.T) {
		r, _ := setup(mt, &fakeGateway{event: event(payment.EventChargeRefunded)})
		mt.AddMockResponses(findResponse(t, colOrders, cardOrder(userID, models.StatusDelivered, models.PaymentPaid)), updateResponse(1, 1))

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		require.Equal(t, http.StatusOK, w.Code)
		updates := sentCommands(mt, "update", colOrders)
		require.Len(t, updates, 1)
		assert.Equal(t, models.PaymentRefunded, updates[0].Lookup("updates", "0", "u", "$set", "payment.status").StringValue())
	})

	mt.Run("unknown intent is acknowledged", func(mt *mtest.T) {
		r, _ := setup(mt, &fakeGateway{event: event(payment.EventPaymentSucceeded)})
		mt.AddMockResponses(findResponse(t, colOrders))

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeBody(t, w)["received"])
	})

	mt.Run("event without an intent is acknowledged", func(mt *mtest.T) {
		r, _ := setup(mt, &fakeGateway{event: payment.WebhookEvent{ID: "evt_2", Type: "customer.created"}})

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, sentCommands(mt, "find", colOrders))
	})

	mt.Run("oversized body", func(mt *mtest.T) {
		r, _ := setup(mt, &fakeGateway{event: event(payment.EventPaymentSucceeded)})
		body := bytes.Repeat([]byte("a"), maxWebhookBody+1)

		w := performRaw(r, http.MethodPost, "/payments/webhook", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Empty(t, sentCommands(mt, "find", colOrders))
	})

	mt.Run("payments not configured", func(mt *mtest.T) {
		d, _ := newTestDeps(t, mt.DB)
		d.Payments = payment.Disabled{}
		r := newTestRouter(d, route{method: http.MethodPost, path: "/payments/webhook", handler: StripeWebhook(d)})

		w := performRaw(r, http.MethodPost, "/payments/webhook", payload)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, decodeBody(t, w)["message"], "not configured")
	})
}
