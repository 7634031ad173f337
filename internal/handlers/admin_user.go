package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/middleware"
	"storefront/internal/models"
)

type roleRequest struct {
	Role string `json:"role" binding:"required,oneof=customer admin"`
}

type statusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

func ListUsers(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/users"

		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		filter := bson.M{}
		if search := strings.TrimSpace(c.Query("search")); search != "" {
			pattern := primitiveRegex(search)
			filter["$or"] = bson.A{
				bson.M{"name": pattern},
				bson.M{"email": pattern},
			}
		}
		if role := strings.TrimSpace(c.Query("role")); role != "" {
			filter["role"] = role
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		total, err := d.col(colUsers).CountDocuments(ctx, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		opts := options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip(page.skip()).
			SetLimit(page.Limit)
		cursor, err := d.col(colUsers).Find(ctx, filter, opts)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		users := make([]models.User, 0)
		if err := cursor.All(ctx, &users); err != nil {
			respondServerError(c, route, err)
			return
		}

		respondPage(c, users, page, total)
	}
}

func UpdateUserRole(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /api/v1/users/:id/role"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		var req roleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		if self, _ := middleware.CurrentUserID(c); self == id && req.Role != models.RoleAdmin {
			respondWithError(c, http.StatusBadRequest, route, "cannot remove your own admin role")
			return
		}

		updateUserFields(c, d, route, id, bson.M{"role": req.Role})
	}
}

func UpdateUserStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /api/v1/users/:id/status"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		if self, _ := middleware.CurrentUserID(c); self == id && !*req.IsActive {
			respondWithError(c, http.StatusBadRequest, route, "cannot deactivate yourself")
			return
		}

		user, ok := updateUserFields(c, d, route, id, bson.M{"isActive": *req.IsActive})
		if !ok || user.IsActive {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if err := revokeAllRefreshTokens(ctx, d.DB, id); err != nil {
			log.Warn().Err(err).Str("route", route).Msg("revoke sessions failed")
		}
	}
}

// DeleteUser deactivates the account; orders and reviews keep their owner.
func DeleteUser(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/users/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		if self, _ := middleware.CurrentUserID(c); self == id {
			respondWithError(c, http.StatusBadRequest, route, "cannot delete yourself")
			return
		}

		if _, ok := updateUserFields(c, d, route, id, bson.M{"isActive": false}); !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if err := revokeAllRefreshTokens(ctx, d.DB, id); err != nil {
			log.Warn().Err(err).Str("route", route).Msg("revoke sessions failed")
		}
	}
}

func updateUserFields(c *gin.Context, d *Deps, route string, id primitive.ObjectID, set bson.M) (models.User, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	set["updatedAt"] = d.now()

	var user models.User
	err := d.col(colUsers).FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		respondWithError(c, http.StatusNotFound, route, "user not found")
		return models.User{}, false
	}
	if err != nil {
		respondServerError(c, route, err)
		return models.User{}, false
	}

	respondOK(c, "user updated", user)
	return user, true
}

func primitiveRegex(term string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"}
}
