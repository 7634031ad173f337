package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type preferencesRequest struct {
	Newsletter *bool   `json:"newsletter"`
	Currency   *string `json:"currency" binding:"omitempty,len=3"`
	Language   *string `json:"language" binding:"omitempty,min=2,max=5"`
}

type profileRequest struct {
	Name        *string             `json:"name" binding:"omitempty,min=2,max=100"`
	Phone       *string             `json:"phone" binding:"omitempty,max=30"`
	Preferences *preferencesRequest `json:"preferences"`
}

type addressRequest struct {
	Type       string `json:"type" binding:"required,oneof=shipping billing"`
	FullName   string `json:"fullName" binding:"required,max=100"`
	Line1      string `json:"line1" binding:"required,max=200"`
	Line2      string `json:"line2" binding:"max=200"`
	City       string `json:"city" binding:"required,max=100"`
	State      string `json:"state" binding:"max=100"`
	PostalCode string `json:"postalCode" binding:"required,max=20"`
	Country    string `json:"country" binding:"required,max=100"`
	Phone      string `json:"phone" binding:"max=30"`
	IsDefault  bool   `json:"isDefault"`
}

func (r addressRequest) toAddress(id string) models.Address {
	return models.Address{
		ID:         id,
		Type:       r.Type,
		FullName:   strings.TrimSpace(r.FullName),
		Line1:      strings.TrimSpace(r.Line1),
		Line2:      strings.TrimSpace(r.Line2),
		City:       strings.TrimSpace(r.City),
		State:      strings.TrimSpace(r.State),
		PostalCode: strings.TrimSpace(r.PostalCode),
		Country:    strings.TrimSpace(r.Country),
		Phone:      strings.TrimSpace(r.Phone),
		IsDefault:  r.IsDefault,
	}
}

type wishlistRequest struct {
	ProductID string `json:"productId" binding:"required,objectid"`
}

// markDefault keeps at most one default address per type; the address at
// index wins.
func markDefault(addresses []models.Address, index int) {
	for i := range addresses {
		if i != index && addresses[i].Type == addresses[index].Type {
			addresses[i].IsDefault = false
		}
	}
}

func GetProfile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadCurrentUser(c, d, "GET /api/v1/users/profile")
		if !ok {
			return
		}
		respondOK(c, "ok", user)
	}
}

func UpdateProfile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/users/profile"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		set := bson.M{"updatedAt": d.now()}
		if req.Name != nil {
			set["name"] = strings.TrimSpace(*req.Name)
		}
		if req.Phone != nil {
			set["phone"] = strings.TrimSpace(*req.Phone)
		}
		if p := req.Preferences; p != nil {
			if p.Newsletter != nil {
				set["preferences.newsletter"] = *p.Newsletter
			}
			if p.Currency != nil {
				set["preferences.currency"] = strings.ToLower(*p.Currency)
			}
			if p.Language != nil {
				set["preferences.language"] = strings.ToLower(*p.Language)
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var user models.User
		err := d.col(colUsers).FindOneAndUpdate(ctx,
			bson.M{"_id": userID},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "user not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "profile updated", user)
	}
}

func GetUserAddresses(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadCurrentUser(c, d, "GET /api/v1/users/addresses")
		if !ok {
			return
		}
		respondOK(c, "ok", user.Addresses)
	}
}

func CreateUserAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/users/addresses"

		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}

		address := req.toAddress(uuid.NewString())
		if _, exists := user.DefaultAddress(address.Type); !exists {
			address.IsDefault = true
		}
		user.Addresses = append(user.Addresses, address)
		if address.IsDefault {
			markDefault(user.Addresses, len(user.Addresses)-1)
		}

		if !saveAddresses(c, d, route, user) {
			return
		}

		log.Info().Str("route", route).Str("address_id", address.ID).Msg("address created")
		respondCreated(c, "address created", address)
	}
}

func UpdateUserAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/users/addresses/:id"

		var req addressRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		addressID := strings.TrimSpace(c.Param("id"))
		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}

		index := -1
		for i, addr := range user.Addresses {
			if addr.ID == addressID {
				index = i
				break
			}
		}
		if index == -1 {
			respondWithError(c, http.StatusNotFound, route, "address not found")
			return
		}

		user.Addresses[index] = req.toAddress(addressID)
		if req.IsDefault {
			markDefault(user.Addresses, index)
		}

		if !saveAddresses(c, d, route, user) {
			return
		}

		respondOK(c, "address updated", user.Addresses[index])
	}
}

func DeleteUserAddress(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/users/addresses/:id"

		addressID := strings.TrimSpace(c.Param("id"))
		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}

		updated := make([]models.Address, 0, len(user.Addresses))
		var removed *models.Address
		for i, addr := range user.Addresses {
			if addr.ID == addressID {
				removed = &user.Addresses[i]
				continue
			}
			updated = append(updated, addr)
		}
		if removed == nil {
			respondWithError(c, http.StatusNotFound, route, "address not found")
			return
		}

		// Promote another address of the same type when the default goes.
		if removed.IsDefault {
			for i := range updated {
				if updated[i].Type == removed.Type {
					updated[i].IsDefault = true
					break
				}
			}
		}

		user.Addresses = updated
		if !saveAddresses(c, d, route, user) {
			return
		}

		respondOK(c, "address deleted", nil)
	}
}

func saveAddresses(c *gin.Context, d *Deps, route string, user models.User) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	_, err := d.col(colUsers).UpdateByID(ctx, user.ID, bson.M{
		"$set": bson.M{"addresses": user.Addresses, "updatedAt": d.now()},
	})
	if err != nil {
		respondServerError(c, route, err)
		return false
	}
	return true
}

func GetWishlist(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/users/wishlist"

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}
		if len(user.Wishlist) == 0 {
			respondOK(c, "ok", []models.Product{})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		cursor, err := d.col(colProducts).Find(ctx, bson.M{"_id": bson.M{"$in": user.Wishlist}, "isDeleted": bson.M{"$ne": true}})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		products, err := decodeProducts(ctx, cursor)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "ok", products)
	}
}

func AddToWishlist(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/users/wishlist"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		var req wishlistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		productID, _ := primitive.ObjectIDFromHex(req.ProductID)

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		count, err := d.col(colProducts).CountDocuments(ctx, bson.M{"_id": productID, "isActive": true, "isDeleted": bson.M{"$ne": true}})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if count == 0 {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}

		if _, err := d.col(colUsers).UpdateByID(ctx, userID, bson.M{
			"$addToSet": bson.M{"wishlist": productID},
			"$set":      bson.M{"updatedAt": d.now()},
		}); err != nil {
			respondServerError(c, route, err)
			return
		}

		trackBehavior(d, userID, productID, models.BehaviorWishlist)
		respondOK(c, "added to wishlist", gin.H{"productId": productID})
	}
}

func RemoveFromWishlist(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/users/wishlist/:productId"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}
		productID, ok := parseObjectIDParam(c, "productId", route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		if _, err := d.col(colUsers).UpdateByID(ctx, userID, bson.M{
			"$pull": bson.M{"wishlist": productID},
			"$set":  bson.M{"updatedAt": d.now()},
		}); err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "removed from wishlist", nil)
	}
}
