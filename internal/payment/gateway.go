package payment

import (
	"context"
	"errors"
)

var (
	ErrPaymentsDisabled = errors.New("payments are not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded   = "charge.refunded"
)

type IntentRequest struct {
	Amount      int64
	Currency    string
	OrderID     string
	OrderNumber string
	Email       string
}

type Intent struct {
	ID             string
	ClientSecret   string
	Status         string
	Amount         int64
	Currency       string
	FailureMessage string
}

func (i Intent) Succeeded() bool {
	return i.Status == "succeeded"
}

type Refund struct {
	ID     string
	Status string
}

// WebhookEvent is the provider neutral view of a verified webhook.
type WebhookEvent struct {
	ID              string
	Type            string
	PaymentIntentID string
	FailureMessage  string
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	// CancelIntent stops an intent that has not been paid yet.
	CancelIntent(ctx context.Context, intentID string) (Intent, error)
	// Refund refunds amount minor units; zero refunds the full charge.
	// Repeated calls for the same intent return the first refund.
	Refund(ctx context.Context, intentID string, amount int64) (Refund, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// Disabled is used when no Stripe key is configured.
type Disabled struct{}

var _ Gateway = Disabled{}

func (Disabled) CreateIntent(context.Context, IntentRequest) (Intent, error) {
	return Intent{}, ErrPaymentsDisabled
}

func (Disabled) GetIntent(context.Context, string) (Intent, error) {
	return Intent{}, ErrPaymentsDisabled
}

func (Disabled) CancelIntent(context.Context, string) (Intent, error) {
	return Intent{}, ErrPaymentsDisabled
}

func (Disabled) Refund(context.Context, string, int64) (Refund, error) {
	return Refund{}, ErrPaymentsDisabled
}

func (Disabled) ParseWebhook([]byte, string) (WebhookEvent, error) {
	return WebhookEvent{}, ErrPaymentsDisabled
}
