package models

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash_on_delivery"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
	// PaymentCancelled marks an intent that was withdrawn before it was paid.
	PaymentCancelled = "cancelled"
)

var ErrInvalidStatus = errors.New("invalid order status")

// ErrInvalidTransition is returned when a status change is not allowed from
// the current status.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

var orderTransitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func IsValidOrderStatus(status string) bool {
	_, ok := orderTransitions[status]
	return ok
}

// CheckTransition validates a status change against the whitelist and the
// transition table.
func CheckTransition(from, to string) error {
	if !IsValidOrderStatus(to) {
		return ErrInvalidStatus
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return nil
		}
	}
	return ErrInvalidTransition{From: from, To: to}
}

// IsCancellable reports whether a customer may still cancel the order.
func IsCancellable(status string) bool {
	return status == StatusPending || status == StatusConfirmed || status == StatusProcessing
}

// OrderItem is a snapshot of a cart line at checkout time.
type OrderItem struct {
	ProductID  primitive.ObjectID `bson:"productId" json:"productId"`
	Name       string             `bson:"name" json:"name"`
	SKU        string             `bson:"sku" json:"sku"`
	VariantSKU string             `bson:"variantSku,omitempty" json:"variantSku,omitempty"`
	Image      string             `bson:"image,omitempty" json:"image,omitempty"`
	UnitPrice  float64            `bson:"unitPrice" json:"unitPrice"`
	Quantity   int                `bson:"quantity" json:"quantity"`
	LineTotal  float64            `bson:"lineTotal" json:"lineTotal"`
}

type Payment struct {
	Method          string     `bson:"method" json:"method"`
	Status          string     `bson:"status" json:"status"`
	Provider        string     `bson:"provider,omitempty" json:"provider,omitempty"`
	PaymentIntentID string     `bson:"paymentIntentId,omitempty" json:"paymentIntentId,omitempty"`
	RefundID        string     `bson:"refundId,omitempty" json:"refundId,omitempty"`
	Amount          float64    `bson:"amount" json:"amount"`
	Currency        string     `bson:"currency" json:"currency"`
	FailureMessage  string     `bson:"failureMessage,omitempty" json:"failureMessage,omitempty"`
	PaidAt          *time.Time `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
	RefundedAt      *time.Time `bson:"refundedAt,omitempty" json:"refundedAt,omitempty"`
}

type StatusChange struct {
	Status string              `bson:"status" json:"status"`
	Note   string              `bson:"note,omitempty" json:"note,omitempty"`
	At     time.Time           `bson:"at" json:"at"`
	By     *primitive.ObjectID `bson:"by,omitempty" json:"by,omitempty"`
}

type OrderTotals struct {
	Subtotal float64 `bson:"subtotal" json:"subtotal"`
	Discount float64 `bson:"discount" json:"discount"`
	Shipping float64 `bson:"shipping" json:"shipping"`
	Tax      float64 `bson:"tax" json:"tax"`
	Total    float64 `bson:"total" json:"total"`
}

// Order defines the persisted order document.
type Order struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderNumber     string             `bson:"orderNumber" json:"orderNumber"`
	UserID          primitive.ObjectID `bson:"userId" json:"userId"`
	Email           string             `bson:"email" json:"email"`
	Items           []OrderItem        `bson:"items" json:"items"`
	ShippingAddress Address            `bson:"shippingAddress" json:"shippingAddress"`
	BillingAddress  Address            `bson:"billingAddress" json:"billingAddress"`
	CouponCode      string             `bson:"couponCode,omitempty" json:"couponCode,omitempty"`
	Totals          OrderTotals        `bson:"totals" json:"totals"`
	Payment         Payment            `bson:"payment" json:"payment"`
	Status          string             `bson:"status" json:"status"`
	StatusHistory   []StatusChange     `bson:"statusHistory" json:"statusHistory"`
	TrackingNumber  string             `bson:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	Notes           string             `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (o Order) ContainsProduct(id primitive.ObjectID) bool {
	for _, item := range o.Items {
		if item.ProductID == id {
			return true
		}
	}
	return false
}
