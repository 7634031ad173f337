package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CouponPercentage   = "percentage"
	CouponFixed        = "fixed"
	CouponFreeShipping = "free_shipping"
)

type CouponUse struct {
	UserID  primitive.ObjectID `bson:"userId" json:"userId"`
	OrderID primitive.ObjectID `bson:"orderId" json:"orderId"`
	UsedAt  time.Time          `bson:"usedAt" json:"usedAt"`
}

type Coupon struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code           string             `bson:"code" json:"code"`
	Description    string             `bson:"description,omitempty" json:"description,omitempty"`
	Type           string             `bson:"type" json:"type"`
	Value          float64            `bson:"value" json:"value"`
	MinOrderAmount float64            `bson:"minOrderAmount" json:"minOrderAmount"`
	MaxDiscount    float64            `bson:"maxDiscount" json:"maxDiscount"`
	UsageLimit     int                `bson:"usageLimit" json:"usageLimit"`
	UsedCount      int                `bson:"usedCount" json:"usedCount"`
	PerUserLimit   int                `bson:"perUserLimit" json:"perUserLimit"`
	UsedBy         []CouponUse        `bson:"usedBy" json:"-"`
	ValidFrom      time.Time          `bson:"validFrom" json:"validFrom"`
	ValidUntil     time.Time          `bson:"validUntil" json:"validUntil"`
	IsActive       bool               `bson:"isActive" json:"isActive"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (c Coupon) UsesBy(userID primitive.ObjectID) int {
	n := 0
	for _, use := range c.UsedBy {
		if use.UserID == userID {
			n++
		}
	}
	return n
}
