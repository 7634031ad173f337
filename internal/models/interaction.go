package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	BehaviorView      = "view"
	BehaviorClick     = "click"
	BehaviorAddToCart = "add_to_cart"
	BehaviorPurchase  = "purchase"
	BehaviorLike      = "like"
	BehaviorShare     = "share"
	BehaviorReview    = "review"
	BehaviorWishlist  = "wishlist"
)

// Interaction is one tracked user behavior on a product.
type Interaction struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	ProductID primitive.ObjectID `bson:"productId" json:"productId"`
	Type      string             `bson:"type" json:"type"`
	Rating    float64            `bson:"rating,omitempty" json:"rating,omitempty"`
	SessionID string             `bson:"sessionId,omitempty" json:"sessionId,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// IsSignificantBehavior reports whether a behavior should invalidate cached
// recommendations.
func IsSignificantBehavior(kind string) bool {
	switch kind {
	case BehaviorPurchase, BehaviorAddToCart, BehaviorReview:
		return true
	}
	return false
}

func IsValidBehavior(kind string) bool {
	switch kind {
	case BehaviorView, BehaviorClick, BehaviorAddToCart, BehaviorPurchase,
		BehaviorLike, BehaviorShare, BehaviorReview, BehaviorWishlist:
		return true
	}
	return false
}
