package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"storefront/internal/auth"
)

type Authenticator struct {
	issuer   *auth.Issuer
	denylist *auth.Denylist
}

func NewAuthenticator(issuer *auth.Issuer, denylist *auth.Denylist) *Authenticator {
	return &Authenticator{issuer: issuer, denylist: denylist}
}

// AuthGuard requires a valid bearer token and, when roles are given, one of
// those roles.
func (a *Authenticator) AuthGuard(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "missing or malformed token")
			return
		}

		claims, ok := a.authenticate(c, raw)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		if len(allowedRoles) > 0 && !hasRole(claims.Role, allowedRoles) {
			abortJSON(c, http.StatusForbidden, "forbidden")
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

func (a *Authenticator) AdminAuth() gin.HandlerFunc {
	return a.AuthGuard("admin")
}

// OptionalAuth attaches the identity when a valid token is present and never
// rejects the request.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, ok := bearerToken(c); ok {
			if claims, ok := a.authenticate(c, raw); ok {
				setIdentity(c, claims)
			}
		}
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context, raw string) (*auth.Claims, bool) {
	claims, err := a.issuer.Parse(raw)
	if err != nil {
		log.Debug().Str("component", "auth").Err(err).Msg("token validation failed")
		return nil, false
	}
	if a.denylist != nil {
		revoked, err := a.denylist.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			log.Warn().Str("component", "auth").Err(err).Msg("denylist lookup failed")
		}
		if revoked {
			return nil, false
		}
	}
	return claims, true
}

func bearerToken(c *gin.Context) (string, bool) {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.Fields(raw)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}
