package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MaxCartItemQuantity = 99

type CartItem struct {
	ID         string             `bson:"id" json:"id"`
	ProductID  primitive.ObjectID `bson:"productId" json:"productId"`
	VariantSKU string             `bson:"variantSku,omitempty" json:"variantSku,omitempty"`
	Name       string             `bson:"name" json:"name"`
	Image      string             `bson:"image,omitempty" json:"image,omitempty"`
	UnitPrice  float64            `bson:"unitPrice" json:"unitPrice"`
	Quantity   int                `bson:"quantity" json:"quantity"`
	LineTotal  float64            `bson:"-" json:"lineTotal"`
	Available  bool               `bson:"-" json:"available"`
	AddedAt    time.Time          `bson:"addedAt" json:"addedAt"`
}

type Cart struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"userId" json:"userId"`
	Items      []CartItem         `bson:"items" json:"items"`
	CouponCode string             `bson:"couponCode,omitempty" json:"couponCode,omitempty"`
	Totals     OrderTotals        `bson:"-" json:"totals"`
	CouponNote string             `bson:"-" json:"couponNote,omitempty"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// FindLine returns the index of the line for product+variant, or -1.
func (c Cart) FindLine(productID primitive.ObjectID, variantSKU string) int {
	for i, item := range c.Items {
		if item.ProductID == productID && item.VariantSKU == variantSKU {
			return i
		}
	}
	return -1
}

func (c Cart) FindItem(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func (c Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}
