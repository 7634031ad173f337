package handlers

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/events"
	"storefront/internal/mailer"
	"storefront/internal/payment"
	"storefront/internal/pricing"
	"storefront/internal/storage"
)

const (
	colUsers         = "users"
	colProducts      = "products"
	colCategories    = "categories"
	colCarts         = "carts"
	colOrders        = "orders"
	colCoupons       = "coupons"
	colReviews       = "reviews"
	colRefreshTokens = "refresh_tokens"
	colInteractions  = "interactions"
)

// Deps carries everything the handlers need. It is built once in main.
type Deps struct {
	DB         *mongo.Database
	Cache      cache.Store
	Issuer     *auth.Issuer
	Denylist   *auth.Denylist
	RefreshTTL time.Duration
	Payments   payment.Gateway
	Images     storage.ImageStore
	Notifier   *mailer.Notifier
	Events     events.Publisher
	Pricing    pricing.Rules
	Currency   string
	CacheTTL   time.Duration
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) col(name string) *mongo.Collection {
	return d.DB.Collection(name)
}

func (d *Deps) publish(eventType, aggregateID string, data any) {
	if d.Events == nil {
		return
	}
	events.PublishAsync(d.Events, events.New(eventType, aggregateID, data))
}

func (d *Deps) notify(kind string, send func(n *mailer.Notifier, ctx context.Context) error) {
	if d.Notifier == nil {
		return
	}
	n := d.Notifier
	n.Go(kind, func(ctx context.Context) error { return send(n, ctx) })
}
