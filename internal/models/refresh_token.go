package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RefreshToken is the server side record of an opaque refresh token. Only the
// SHA-256 of the token is stored. A rotated token keeps a pointer to its
// successor so reuse can be told apart from an unknown token.
type RefreshToken struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID          primitive.ObjectID  `bson:"userId" json:"userId"`
	TokenHash       string              `bson:"tokenHash" json:"-"`
	ExpiresAt       time.Time           `bson:"expiresAt" json:"expiresAt"`
	Revoked         bool                `bson:"revoked" json:"revoked"`
	ReplacedByToken *primitive.ObjectID `bson:"replacedByToken,omitempty" json:"replacedByToken,omitempty"`
	UserAgent       string              `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	IP              string              `bson:"ip,omitempty" json:"ip,omitempty"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
}

func (t RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Rotated reports whether the token was revoked by a rotation rather than a
// logout.
func (t RefreshToken) Rotated() bool {
	return t.Revoked && t.ReplacedByToken != nil
}
