package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

const (
	AddressShipping = "shipping"
	AddressBilling  = "billing"
)

// Address represents a single address entry for a user.
type Address struct {
	ID         string `bson:"id" json:"id"`
	Type       string `bson:"type" json:"type"`
	FullName   string `bson:"fullName" json:"fullName"`
	Line1      string `bson:"line1" json:"line1"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state,omitempty" json:"state,omitempty"`
	PostalCode string `bson:"postalCode" json:"postalCode"`
	Country    string `bson:"country" json:"country"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
	IsDefault  bool   `bson:"isDefault" json:"isDefault"`
}

type Preferences struct {
	Newsletter bool   `bson:"newsletter" json:"newsletter"`
	Currency   string `bson:"currency,omitempty" json:"currency,omitempty"`
	Language   string `bson:"language,omitempty" json:"language,omitempty"`
}

// User represents the application user account.
type User struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Email        string               `bson:"email" json:"email"`
	PasswordHash string               `bson:"passwordHash" json:"-"`
	Name         string               `bson:"name" json:"name"`
	Phone        string               `bson:"phone,omitempty" json:"phone,omitempty"`
	Role         string               `bson:"role" json:"role"`
	IsActive     bool                 `bson:"isActive" json:"isActive"`
	Addresses    []Address            `bson:"addresses" json:"addresses"`
	Wishlist     []primitive.ObjectID `bson:"wishlist" json:"wishlist"`
	Preferences  Preferences          `bson:"preferences" json:"preferences"`
	LastLoginAt  *time.Time           `bson:"lastLoginAt,omitempty" json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DefaultAddress returns the default address of the given type, falling back
// to the first address of that type.
func (u User) DefaultAddress(kind string) (Address, bool) {
	var fallback *Address
	for i := range u.Addresses {
		addr := u.Addresses[i]
		if addr.Type != kind {
			continue
		}
		if addr.IsDefault {
			return addr, true
		}
		if fallback == nil {
			fallback = &u.Addresses[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Address{}, false
}

func (u User) FindAddress(id string) (Address, bool) {
	for _, addr := range u.Addresses {
		if addr.ID == id {
			return addr, true
		}
	}
	return Address{}, false
}
