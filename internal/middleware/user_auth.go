package middleware

import (
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/auth"
)

const (
	ctxUserID = "userId"
	ctxRole   = "role"
	ctxClaims = "claims"
)

func setIdentity(c *gin.Context, claims *auth.Claims) {
	userID, _ := claims.UserID()
	c.Set(ctxUserID, userID)
	c.Set(ctxRole, claims.Role)
	c.Set(ctxClaims, claims)
}

// CurrentUserID returns the authenticated user id set by AuthGuard.
func CurrentUserID(c *gin.Context) (primitive.ObjectID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return primitive.NilObjectID, false
	}
	id, ok := v.(primitive.ObjectID)
	return id, ok && !id.IsZero()
}

func CurrentRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

func IsAdmin(c *gin.Context) bool {
	return CurrentRole(c) == "admin"
}

func CurrentClaims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
