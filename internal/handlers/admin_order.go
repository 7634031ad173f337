package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/middleware"
	"storefront/internal/models"
)

type orderStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	Note           string `json:"note" binding:"max=500"`
	TrackingNumber string `json:"trackingNumber" binding:"max=100"`
}

// adminOrderFilter reads status, userId, paymentStatus, search and the
// from/to creation dates (YYYY-MM-DD, to inclusive).
func adminOrderFilter(c *gin.Context) (bson.M, string) {
	filter := bson.M{}

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !models.IsValidOrderStatus(status) {
			return nil, "invalid status"
		}
		filter["status"] = status
	}
	if raw := strings.TrimSpace(c.Query("userId")); raw != "" {
		userID, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return nil, "invalid userId"
		}
		filter["userId"] = userID
	}
	if ps := strings.TrimSpace(c.Query("paymentStatus")); ps != "" {
		filter["payment.status"] = ps
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := primitiveRegex(search)
		filter["$or"] = bson.A{bson.M{"orderNumber": pattern}, bson.M{"email": pattern}}
	}

	created := bson.M{}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, "from must be YYYY-MM-DD"
		}
		created["$gte"] = from
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, "to must be YYYY-MM-DD"
		}
		created["$lt"] = to.AddDate(0, 0, 1)
	}
	if len(created) > 0 {
		filter["createdAt"] = created
	}
	return filter, ""
}

func GetAllOrders(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/orders/admin/all"

		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		filter, problem := adminOrderFilter(c)
		if problem != "" {
			respondWithError(c, http.StatusBadRequest, route, problem)
			return
		}

		listOrders(c, d, route, filter, page)
	}
}

func UpdateOrderStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /api/v1/orders/:id/status"

		var req orderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}
		status := strings.ToLower(strings.TrimSpace(req.Status))
		if !models.IsValidOrderStatus(status) {
			respondWithError(c, http.StatusBadRequest, route, models.ErrInvalidStatus.Error())
			return
		}

		order, ok := loadOrderFor(c, d, route)
		if !ok {
			return
		}
		adminID, _ := middleware.CurrentUserID(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*dbTimeout)
		defer cancel()

		updated, err := transitionOrder(ctx, d, order, statusChange{
			To:             status,
			Note:           strings.TrimSpace(req.Note),
			By:             &adminID,
			TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		})
		if err != nil {
			respondTransitionError(c, route, err)
			return
		}

		respondOK(c, "order status updated", updated)
	}
}
