package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/internal/models"
)

type CategoryCreateRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=100"`
	Description string `json:"description" binding:"max=1000"`
	ImageURL    string `json:"imageUrl" binding:"omitempty,url"`
	ParentID    string `json:"parentId" binding:"omitempty,objectid"`
	SortOrder   int    `json:"sortOrder"`
	IsActive    *bool  `json:"isActive"`
}

type CategoryUpdateRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=2,max=100"`
	Description *string `json:"description" binding:"omitempty,max=1000"`
	ImageURL    *string `json:"imageUrl"`
	ParentID    *string `json:"parentId"`
	SortOrder   *int    `json:"sortOrder"`
	IsActive    *bool   `json:"isActive"`
}

var (
	errParentNotFound = errors.New("parent category not found")
	errParentCycle    = errors.New("category cannot be its own ancestor")
)

// checkParent rejects a parent that is missing, the category itself, or one
// of its descendants. self is nil for new categories.
func checkParent(categories []models.Category, self *primitive.ObjectID, parent primitive.ObjectID) error {
	found := false
	for _, cat := range categories {
		if cat.ID == parent {
			found = true
			break
		}
	}
	if !found {
		return errParentNotFound
	}
	if self == nil {
		return nil
	}
	for _, id := range models.DescendantIDs(categories, *self) {
		if id == parent {
			return errParentCycle
		}
	}
	return nil
}

func invalidateCategoryCache(ctx context.Context, d *Deps) {
	if err := d.Cache.Delete(ctx, categoryTreeKey); err != nil {
		log.Warn().Err(err).Msg("category cache invalidation failed")
	}
	invalidateProductCache(ctx, d)
}

func GetAllCategories(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/categories/admin/all"

		filter := bson.M{}
		if v := strings.TrimSpace(c.Query("isActive")); v != "" {
			filter["isActive"] = v == "true"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		categories, err := loadCategories(ctx, d.DB, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		respondOK(c, "ok", categories)
	}
}

func CreateCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/categories"

		var req CategoryCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		name := strings.TrimSpace(req.Name)
		slug := slugify(name)
		if slug == "" {
			respondWithError(c, http.StatusBadRequest, route, "name must contain letters or digits")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		now := d.now()
		category := models.Category{
			ID:          primitive.NewObjectID(),
			Name:        name,
			Slug:        slug,
			Description: strings.TrimSpace(req.Description),
			ImageURL:    strings.TrimSpace(req.ImageURL),
			SortOrder:   req.SortOrder,
			IsActive:    req.IsActive == nil || *req.IsActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if req.ParentID != "" {
			parentID, _ := primitive.ObjectIDFromHex(req.ParentID)
			all, err := loadCategories(ctx, d.DB, bson.M{})
			if err != nil {
				respondServerError(c, route, err)
				return
			}
			if err := checkParent(all, nil, parentID); err != nil {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			category.ParentID = &parentID
		}

		if _, err := d.col(colCategories).InsertOne(ctx, category); err != nil {
			if isDuplicateKey(err) {
				respondWithError(c, http.StatusConflict, route, "category already exists")
				return
			}
			respondServerError(c, route, err)
			return
		}

		invalidateCategoryCache(ctx, d)
		respondCreated(c, "category created", category)
	}
}

func UpdateCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/categories/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		var req CategoryUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		set := bson.M{}
		unset := bson.M{}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			slug := slugify(name)
			if slug == "" {
				respondWithError(c, http.StatusBadRequest, route, "name must contain letters or digits")
				return
			}
			set["name"] = name
			set["slug"] = slug
		}
		if req.Description != nil {
			set["description"] = strings.TrimSpace(*req.Description)
		}
		if req.ImageURL != nil {
			set["imageUrl"] = strings.TrimSpace(*req.ImageURL)
		}
		if req.SortOrder != nil {
			set["sortOrder"] = *req.SortOrder
		}
		if req.IsActive != nil {
			set["isActive"] = *req.IsActive
		}
		if req.ParentID != nil {
			raw := strings.TrimSpace(*req.ParentID)
			if raw == "" {
				unset["parentId"] = ""
			} else {
				parentID, err := primitive.ObjectIDFromHex(raw)
				if err != nil {
					respondWithError(c, http.StatusBadRequest, route, "invalid parentId")
					return
				}
				all, err := loadCategories(ctx, d.DB, bson.M{})
				if err != nil {
					respondServerError(c, route, err)
					return
				}
				if err := checkParent(all, &id, parentID); err != nil {
					respondWithError(c, http.StatusBadRequest, route, err.Error())
					return
				}
				set["parentId"] = parentID
			}
		}

		if len(set) == 0 && len(unset) == 0 {
			respondWithError(c, http.StatusBadRequest, route, "no fields to update")
			return
		}
		set["updatedAt"] = d.now()

		update := bson.M{"$set": set}
		if len(unset) > 0 {
			update["$unset"] = unset
		}

		var updated models.Category
		err := d.col(colCategories).FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "category not found")
			return
		}
		if isDuplicateKey(err) {
			respondWithError(c, http.StatusConflict, route, "category already exists")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		invalidateCategoryCache(ctx, d)
		respondOK(c, "category updated", updated)
	}
}

// DeleteCategory is a soft delete and refuses while active children exist.
func DeleteCategory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/categories/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		children, err := d.col(colCategories).CountDocuments(ctx, bson.M{"parentId": id, "isActive": true})
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if children > 0 {
			respondWithError(c, http.StatusConflict, route, "category has active subcategories")
			return
		}

		result, err := d.col(colCategories).UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"isActive": false, "updatedAt": d.now()}},
		)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if result.MatchedCount == 0 {
			respondWithError(c, http.StatusNotFound, route, "category not found")
			return
		}

		invalidateCategoryCache(ctx, d)
		respondOK(c, "category deleted", nil)
	}
}
