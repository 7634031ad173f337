package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/events"
	"storefront/internal/mailer"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

const resetTokenTTL = time.Hour

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=128"`
}

type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func resetKey(token string) string {
	return "reset:" + auth.HashToken(token)
}

// issueSession signs an access token and stores a fresh refresh token.
func issueSession(ctx context.Context, d *Deps, c *gin.Context, user models.User) (AuthTokens, primitive.ObjectID, error) {
	access, _, err := d.Issuer.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return AuthTokens{}, primitive.NilObjectID, err
	}

	raw, err := auth.NewOpaqueToken()
	if err != nil {
		return AuthTokens{}, primitive.NilObjectID, err
	}

	now := d.now()
	doc := models.RefreshToken{
		ID:        primitive.NewObjectID(),
		UserID:    user.ID,
		TokenHash: auth.HashToken(raw),
		ExpiresAt: now.Add(d.RefreshTTL),
		CreatedAt: now,
		UserAgent: c.Request.UserAgent(),
		IP:        c.ClientIP(),
	}
	if _, err := d.col(colRefreshTokens).InsertOne(ctx, doc); err != nil {
		return AuthTokens{}, primitive.NilObjectID, err
	}

	return AuthTokens{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(d.Issuer.AccessTTL().Seconds()),
	}, doc.ID, nil
}

func revokeAllRefreshTokens(ctx context.Context, db *mongo.Database, userID primitive.ObjectID) error {
	_, err := db.Collection(colRefreshTokens).UpdateMany(ctx,
		bson.M{"userId": userID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	return err
}

func Register(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/auth/register"

		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		now := d.now()
		user := models.User{
			ID:           primitive.NewObjectID(),
			Email:        normalizeEmail(req.Email),
			PasswordHash: hash,
			Name:         strings.TrimSpace(req.Name),
			Role:         models.RoleCustomer,
			IsActive:     true,
			Addresses:    []models.Address{},
			Wishlist:     []primitive.ObjectID{},
			Preferences:  models.Preferences{Currency: d.Currency, Language: "en"},
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if _, err := d.col(colUsers).InsertOne(ctx, user); err != nil {
			if isDuplicateKey(err) {
				respondWithError(c, http.StatusConflict, route, "email already registered")
				return
			}
			respondServerError(c, route, err)
			return
		}

		tokens, _, err := issueSession(ctx, d, c, user)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		d.notify("welcome", func(n *mailer.Notifier, ctx context.Context) error {
			return n.Welcome(ctx, user)
		})
		d.publish(events.UserCreated, user.ID.Hex(), gin.H{"email": user.Email})

		log.Info().Str("route", route).Str("user_id", user.ID.Hex()).Msg("user registered")
		respondCreated(c, "registered", gin.H{"user": user, "tokens": tokens})
	}
}

func Login(d *Deps) gin.HandlerFunc {
	return login(d, "POST /api/v1/auth/login", false)
}

// login authenticates by email and password. adminOnly rejects accounts
// without the admin role with the same message as a wrong password.
func login(d *Deps, route string, adminOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var user models.User
		err := d.col(colUsers).FindOne(ctx, bson.M{"email": normalizeEmail(req.Email)}).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		if !auth.CheckPassword(user.PasswordHash, req.Password) {
			respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
			return
		}
		if adminOnly && !user.IsAdmin() {
			respondWithError(c, http.StatusUnauthorized, route, "invalid credentials")
			return
		}
		if !user.IsActive {
			respondWithError(c, http.StatusForbidden, route, "account is disabled")
			return
		}

		now := d.now()
		user.LastLoginAt = &now
		if _, err := d.col(colUsers).UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{"lastLoginAt": now}}); err != nil {
			log.Warn().Err(err).Str("route", route).Msg("lastLoginAt update failed")
		}

		tokens, _, err := issueSession(ctx, d, c, user)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "logged in", gin.H{"user": user, "tokens": tokens})
	}
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes every session of its owner.
func Refresh(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/auth/refresh"

		var req RefreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		var stored models.RefreshToken
		err := d.col(colRefreshTokens).FindOne(ctx, bson.M{"tokenHash": auth.HashToken(strings.TrimSpace(req.RefreshToken))}).Decode(&stored)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusUnauthorized, route, "invalid refresh token")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		if stored.Revoked {
			if err := revokeAllRefreshTokens(ctx, d.DB, stored.UserID); err != nil {
				respondServerError(c, route, err)
				return
			}
			log.Warn().Str("route", route).Str("user_id", stored.UserID.Hex()).Bool("rotated", stored.Rotated()).Msg("refresh token reuse detected")
			respondWithError(c, http.StatusUnauthorized, route, "refresh token revoked")
			return
		}
		if stored.Expired(d.now()) {
			respondWithError(c, http.StatusUnauthorized, route, "refresh token expired")
			return
		}

		var user models.User
		if err := d.col(colUsers).FindOne(ctx, bson.M{"_id": stored.UserID}).Decode(&user); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				respondWithError(c, http.StatusUnauthorized, route, "invalid refresh token")
				return
			}
			respondServerError(c, route, err)
			return
		}
		if !user.IsActive {
			respondWithError(c, http.StatusForbidden, route, "account is disabled")
			return
		}

		tokens, newID, err := issueSession(ctx, d, c, user)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		res, err := d.col(colRefreshTokens).UpdateOne(ctx,
			bson.M{"_id": stored.ID, "revoked": false},
			bson.M{"$set": bson.M{"revoked": true, "replacedByToken": newID}},
		)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if res.ModifiedCount == 0 {
			// Lost a race against a concurrent rotation of the same token.
			if err := revokeAllRefreshTokens(ctx, d.DB, user.ID); err != nil {
				log.Error().Err(err).Str("route", route).Str("user_id", user.ID.Hex()).Msg("session revocation failed")
			}
			respondWithError(c, http.StatusUnauthorized, route, "refresh token revoked")
			return
		}

		respondOK(c, "token refreshed", gin.H{"tokens": tokens})
	}
}

func Logout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/auth/logout"

		userID, ok := requireUserID(c, route)
		if !ok {
			return
		}

		var req LogoutRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		if token := strings.TrimSpace(req.RefreshToken); token != "" {
			if _, err := d.col(colRefreshTokens).UpdateOne(ctx,
				bson.M{"tokenHash": auth.HashToken(token), "userId": userID},
				bson.M{"$set": bson.M{"revoked": true}},
			); err != nil {
				respondServerError(c, route, err)
				return
			}
		}

		if claims, ok := middleware.CurrentClaims(c); ok && d.Denylist != nil {
			if err := d.Denylist.Revoke(ctx, claims); err != nil {
				log.Warn().Err(err).Str("route", route).Msg("access token denylist failed")
			}
		}

		respondOK(c, "logged out", nil)
	}
}

func Me(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/auth/me"

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}
		respondOK(c, "ok", user)
	}
}

// ForgotPassword answers 200 whether or not the email is known.
func ForgotPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/auth/forgot-password"

		var req ForgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		const message = "if the email is registered, a reset link has been sent"

		var user models.User
		err := d.col(colUsers).FindOne(ctx, bson.M{"email": normalizeEmail(req.Email), "isActive": true}).Decode(&user)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondOK(c, message, nil)
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		token := uuid.NewString()
		if err := d.Cache.Set(ctx, resetKey(token), user.ID.Hex(), resetTokenTTL); err != nil {
			if errors.Is(err, cache.ErrUnavailable) {
				log.Warn().Str("route", route).Msg("password reset needs redis")
				respondWithError(c, http.StatusServiceUnavailable, route, "password reset is temporarily unavailable")
				return
			}
			respondServerError(c, route, err)
			return
		}

		d.notify("password_reset", func(n *mailer.Notifier, ctx context.Context) error {
			return n.PasswordReset(ctx, user, token, resetTokenTTL)
		})

		respondOK(c, message, nil)
	}
}

func ResetPassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/auth/reset-password"

		var req ResetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		key := resetKey(strings.TrimSpace(req.Token))
		userHex, err := d.Cache.Get(ctx, key)
		if errors.Is(err, cache.ErrMiss) {
			respondWithError(c, http.StatusBadRequest, route, "invalid or expired reset token")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		userID, err := primitive.ObjectIDFromHex(userHex)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, "invalid or expired reset token")
			return
		}

		// Single use: the key goes before the password changes.
		if err := d.Cache.Delete(ctx, key); err != nil {
			respondServerError(c, route, err)
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		res, err := d.col(colUsers).UpdateByID(ctx, userID, bson.M{"$set": bson.M{"passwordHash": hash, "updatedAt": d.now()}})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if res.MatchedCount == 0 {
			respondWithError(c, http.StatusBadRequest, route, "invalid or expired reset token")
			return
		}

		if err := revokeAllRefreshTokens(ctx, d.DB, userID); err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "password has been reset", nil)
	}
}

func ChangePassword(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/auth/change-password"

		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		user, ok := loadCurrentUser(c, d, route)
		if !ok {
			return
		}
		if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
			respondWithError(c, http.StatusUnauthorized, route, "current password is incorrect")
			return
		}

		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		if _, err := d.col(colUsers).UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{"passwordHash": hash, "updatedAt": d.now()}}); err != nil {
			respondServerError(c, route, err)
			return
		}
		if err := revokeAllRefreshTokens(ctx, d.DB, user.ID); err != nil {
			respondServerError(c, route, err)
			return
		}

		respondOK(c, "password changed", nil)
	}
}

func loadCurrentUser(c *gin.Context, d *Deps, route string) (models.User, bool) {
	userID, ok := requireUserID(c, route)
	if !ok {
		return models.User{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
	defer cancel()

	var user models.User
	err := d.col(colUsers).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		respondWithError(c, http.StatusNotFound, route, "user not found")
		return models.User{}, false
	}
	if err != nil {
		respondServerError(c, route, err)
		return models.User{}, false
	}
	if user.Addresses == nil {
		user.Addresses = []models.Address{}
	}
	if user.Wishlist == nil {
		user.Wishlist = []primitive.ObjectID{}
	}
	return user, true
}
