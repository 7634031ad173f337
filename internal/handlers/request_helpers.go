package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/database"
	"storefront/internal/middleware"
)

const dbTimeout = 5 * time.Second

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": data})
}

func respondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": message, "data": data})
}

func respondPage(c *gin.Context, data any, p pagination, total int64) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "ok",
		"data":       data,
		"pagination": p.meta(total),
	})
}

// respondWithError aborts with the error envelope. Server errors are logged
// with the route so they can be traced.
func respondWithError(c *gin.Context, status int, route string, message string) {
	if status >= http.StatusInternalServerError {
		log.Error().Str("route", route).Str("request_id", middleware.GetRequestID(c)).Int("status", status).Msg(message)
	} else {
		log.Debug().Str("route", route).Int("status", status).Msg(message)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func respondServerError(c *gin.Context, route string, err error) {
	log.Error().Err(err).Str("route", route).Str("request_id", middleware.GetRequestID(c)).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal server error"})
}

func respondValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			details = append(details, describeFieldError(fieldError))
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "validation failed",
			"errors":  details,
		})
		return
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": "invalid body",
		"errors":  []string{err.Error()},
	})
}

// bindOptionalJSON binds a body that may be left out entirely. A body that is
// present must still decode and validate.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := lowerCamel(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte", "gt", "lte", "lt":
		return fmt.Sprintf("%s is out of range", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "objectid":
		return fmt.Sprintf("%s must be a valid id", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func lowerCamel(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func ensureDBConnection(ctx context.Context, db *mongo.Database) error {
	return database.Ping(ctx, db.Client())
}

func requireUserID(c *gin.Context, route string) (primitive.ObjectID, bool) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		respondWithError(c, http.StatusUnauthorized, route, "unauthorized")
		return primitive.NilObjectID, false
	}
	return userID, true
}

func parseObjectIDParam(c *gin.Context, name, route string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(c.Param(name)))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, route, "invalid "+name)
		return primitive.NilObjectID, false
	}
	return id, true
}

func isDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
