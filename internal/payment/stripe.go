package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

var _ Gateway = (*Stripe)(nil)

func NewStripe(secretKey, webhookSecret string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(req.Amount),
		Currency:     stripe.String(strings.ToLower(req.Currency)),
		ReceiptEmail: stripe.String(req.Email),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("orderId", req.OrderID)
	params.AddMetadata("orderNumber", req.OrderNumber)
	params.SetIdempotencyKey("order-" + req.OrderID)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (s *Stripe) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("get payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (s *Stripe) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: stripe.String("requested_by_customer")}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("cancel payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (s *Stripe) Refund(ctx context.Context, intentID string, amount int64) (Refund, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx
	params.SetIdempotencyKey(refundIdempotencyKey(intentID))
	r, err := s.api.Refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("refund payment intent: %w", err)
	}
	return Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (WebhookEvent, error) {
	out := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntentID = pi.ID
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return WebhookEvent{}, fmt.Errorf("decode charge: %w", err)
		}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}

// refundIdempotencyKey ties a refund to its intent. Every order has exactly
// one intent, so retries of a cancellation or a late capture reuse the key.
func refundIdempotencyKey(intentID string) string {
	return "refund-" + intentID
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	out := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}
