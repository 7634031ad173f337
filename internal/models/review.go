package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Review struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ProductID        primitive.ObjectID `bson:"productId" json:"productId"`
	UserID           primitive.ObjectID `bson:"userId" json:"userId"`
	UserName         string             `bson:"userName" json:"userName"`
	Rating           int                `bson:"rating" json:"rating"`
	Title            string             `bson:"title,omitempty" json:"title,omitempty"`
	Comment          string             `bson:"comment" json:"comment"`
	VerifiedPurchase bool               `bson:"verifiedPurchase" json:"verifiedPurchase"`
	CreatedAt        time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}
