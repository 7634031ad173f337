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

	"storefront/internal/events"
	"storefront/internal/models"
	"storefront/internal/pricing"
	"storefront/internal/storage"
)

type variantRequest struct {
	SKU             string            `json:"sku" binding:"required,max=64"`
	Name            string            `json:"name" binding:"required,max=100"`
	Options         map[string]string `json:"options"`
	PriceAdjustment float64           `json:"priceAdjustment"`
	Stock           int               `json:"stock" binding:"gte=0"`
}

type seoRequest struct {
	MetaTitle       string `json:"metaTitle" binding:"max=70"`
	MetaDescription string `json:"metaDescription" binding:"max=160"`
}

type ProductCreateRequest struct {
	Name              string           `json:"name" binding:"required,min=2,max=200"`
	SKU               string           `json:"sku" binding:"required,max=64"`
	Description       string           `json:"description" binding:"max=5000"`
	Price             float64          `json:"price" binding:"gt=0"`
	SaleEnabled       bool             `json:"saleEnabled"`
	SalePrice         *float64         `json:"salePrice"`
	CategoryID        string           `json:"categoryId" binding:"omitempty,objectid"`
	Brand             string           `json:"brand" binding:"max=100"`
	Tags              []string         `json:"tags" binding:"max=30"`
	Stock             int              `json:"stock" binding:"gte=0"`
	LowStockThreshold *int             `json:"lowStockThreshold" binding:"omitempty,gte=0"`
	Variants          []variantRequest `json:"variants" binding:"omitempty,dive"`
	IsActive          *bool            `json:"isActive"`
	IsFeatured        bool             `json:"isFeatured"`
	SEO               seoRequest       `json:"seo"`
}

type ProductUpdateRequest struct {
	Name              *string           `json:"name" binding:"omitempty,min=2,max=200"`
	SKU               *string           `json:"sku" binding:"omitempty,max=64"`
	Description       *string           `json:"description" binding:"omitempty,max=5000"`
	Price             *float64          `json:"price" binding:"omitempty,gt=0"`
	SaleEnabled       *bool             `json:"saleEnabled"`
	SalePrice         *float64          `json:"salePrice"`
	CategoryID        *string           `json:"categoryId"`
	Brand             *string           `json:"brand" binding:"omitempty,max=100"`
	Tags              []string          `json:"tags" binding:"omitempty,max=30"`
	LowStockThreshold *int              `json:"lowStockThreshold" binding:"omitempty,gte=0"`
	Variants          *[]variantRequest `json:"variants"`
	IsActive          *bool             `json:"isActive"`
	IsFeatured        *bool             `json:"isFeatured"`
	SEO               *seoRequest       `json:"seo"`
}

type InventoryRequest struct {
	Stock      *int   `json:"stock" binding:"omitempty,gte=0"`
	Delta      *int   `json:"delta"`
	VariantSKU string `json:"variantSku"`
}

func toVariants(in []variantRequest) []models.Variant {
	out := make([]models.Variant, 0, len(in))
	for _, v := range in {
		out = append(out, models.Variant{
			SKU:             strings.ToUpper(strings.TrimSpace(v.SKU)),
			Name:            strings.TrimSpace(v.Name),
			Options:         v.Options,
			PriceAdjustment: pricing.Round(v.PriceAdjustment),
			Stock:           v.Stock,
		})
	}
	return out
}

func categoryExists(ctx context.Context, d *Deps, id primitive.ObjectID) (bool, error) {
	n, err := d.col(colCategories).CountDocuments(ctx, bson.M{"_id": id})
	return n > 0, err
}

// GetAllProducts lists products for the admin panel, including inactive ones.
func GetAllProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products/admin/all"

		page, err := paginationFromQuery(c)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		filter := bson.M{"isDeleted": bson.M{"$ne": true}}
		if c.Query("includeDeleted") == "true" {
			filter = bson.M{}
		}
		if search := strings.TrimSpace(c.Query("search")); search != "" {
			pattern := primitiveRegex(search)
			filter["$or"] = bson.A{bson.M{"name": pattern}, bson.M{"sku": pattern}}
		}
		if c.Query("lowStock") == "true" {
			filter["$expr"] = bson.M{"$lte": bson.A{"$stock", "$lowStockThreshold"}}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		total, err := d.col(colProducts).CountDocuments(ctx, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		cursor, err := d.col(colProducts).Find(ctx, filter, options.Find().
			SetSort(bson.D{{Key: "createdAt", Value: -1}}).
			SetSkip(page.skip()).
			SetLimit(page.Limit))
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		products, err := decodeProducts(ctx, cursor)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		respondPage(c, products, page, total)
	}
}

func CreateProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/products"

		var req ProductCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		salePrice := 0.0
		if req.SalePrice != nil {
			salePrice = *req.SalePrice
		}
		if err := pricing.ValidateSale(req.Price, req.SaleEnabled, salePrice, req.SalePrice != nil); err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		if !req.SaleEnabled {
			salePrice = 0
		}

		variants := toVariants(req.Variants)
		if err := validateVariants(variants); err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
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
		product := models.Product{
			ID:                primitive.NewObjectID(),
			Name:              name,
			Slug:              slug,
			SKU:               strings.ToUpper(strings.TrimSpace(req.SKU)),
			Description:       strings.TrimSpace(req.Description),
			Price:             pricing.Round(req.Price),
			SaleEnabled:       req.SaleEnabled,
			SalePrice:         pricing.Round(salePrice),
			Brand:             strings.TrimSpace(req.Brand),
			Tags:              models.NormalizeTags(req.Tags),
			Images:            []models.ProductImage{},
			Stock:             req.Stock,
			LowStockThreshold: 5,
			Variants:          variants,
			IsActive:          req.IsActive == nil || *req.IsActive,
			IsFeatured:        req.IsFeatured,
			SEO:               models.SEO{MetaTitle: req.SEO.MetaTitle, MetaDescription: req.SEO.MetaDescription},
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if req.LowStockThreshold != nil {
			product.LowStockThreshold = *req.LowStockThreshold
		}

		if req.CategoryID != "" {
			categoryID, _ := primitive.ObjectIDFromHex(req.CategoryID)
			exists, err := categoryExists(ctx, d, categoryID)
			if err != nil {
				respondServerError(c, route, err)
				return
			}
			if !exists {
				respondWithError(c, http.StatusBadRequest, route, "category not found")
				return
			}
			product.CategoryID = &categoryID
		}

		if _, err := d.col(colProducts).InsertOne(ctx, product); err != nil {
			if isDuplicateKey(err) {
				respondWithError(c, http.StatusConflict, route, "product sku or slug already exists")
				return
			}
			respondServerError(c, route, err)
			return
		}

		pricing.Decorate(&product)
		invalidateProductCache(ctx, d)
		d.publish(events.ProductCreated, product.ID.Hex(), gin.H{"sku": product.SKU, "name": product.Name})

		log.Info().Str("route", route).Str("product_id", product.ID.Hex()).Msg("product created")
		respondCreated(c, "product created", product)
	}
}

func UpdateProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /api/v1/products/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		var req ProductUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		existing, err := decodeProduct(d.col(colProducts).FindOne(ctx, bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}}))
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		set := bson.M{}
		unset := bson.M{}

		sale, err := pricing.ResolveSaleUpdate(existing, pricing.SaleUpdate{
			Price:       req.Price,
			SaleEnabled: req.SaleEnabled,
			SalePrice:   req.SalePrice,
		})
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		if req.Price != nil {
			set["price"] = pricing.Round(sale.Price)
		}
		if sale.SetSaleEnabled {
			set["saleEnabled"] = sale.SaleEnabled
		}
		if sale.SetSalePrice {
			set["salePrice"] = pricing.Round(sale.SalePrice)
		}

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
		if req.SKU != nil {
			set["sku"] = strings.ToUpper(strings.TrimSpace(*req.SKU))
		}
		if req.Description != nil {
			set["description"] = strings.TrimSpace(*req.Description)
		}
		if req.Brand != nil {
			set["brand"] = strings.TrimSpace(*req.Brand)
		}
		if req.Tags != nil {
			set["tags"] = models.NormalizeTags(req.Tags)
		}
		if req.LowStockThreshold != nil {
			set["lowStockThreshold"] = *req.LowStockThreshold
		}
		if req.IsActive != nil {
			set["isActive"] = *req.IsActive
		}
		if req.IsFeatured != nil {
			set["isFeatured"] = *req.IsFeatured
		}
		if req.SEO != nil {
			set["seo"] = models.SEO{MetaTitle: req.SEO.MetaTitle, MetaDescription: req.SEO.MetaDescription}
		}
		if req.Variants != nil {
			variants := toVariants(*req.Variants)
			if err := validateVariants(variants); err != nil {
				respondWithError(c, http.StatusBadRequest, route, err.Error())
				return
			}
			set["variants"] = variants
		}
		if req.CategoryID != nil {
			raw := strings.TrimSpace(*req.CategoryID)
			if raw == "" {
				unset["categoryId"] = ""
			} else {
				categoryID, err := primitive.ObjectIDFromHex(raw)
				if err != nil {
					respondWithError(c, http.StatusBadRequest, route, "invalid categoryId")
					return
				}
				exists, err := categoryExists(ctx, d, categoryID)
				if err != nil {
					respondServerError(c, route, err)
					return
				}
				if !exists {
					respondWithError(c, http.StatusBadRequest, route, "category not found")
					return
				}
				set["categoryId"] = categoryID
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

		updated, err := decodeProduct(d.col(colProducts).FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		))
		if isDuplicateKey(err) {
			respondWithError(c, http.StatusConflict, route, "product sku or slug already exists")
			return
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		invalidateProductCache(ctx, d)
		d.publish(events.ProductUpdated, id.Hex(), gin.H{"fields": mapKeys(set)})
		respondOK(c, "product updated", updated)
	}
}

// DeleteProduct soft deletes; order snapshots keep pointing at the document.
func DeleteProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/products/:id"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		now := d.now()
		result, err := d.col(colProducts).UpdateOne(ctx,
			bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}},
			bson.M{"$set": bson.M{"isDeleted": true, "isActive": false, "deletedAt": now, "updatedAt": now}},
		)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		if result.MatchedCount == 0 {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}

		invalidateProductCache(ctx, d)
		d.publish(events.ProductDeleted, id.Hex(), nil)
		respondOK(c, "product deleted", nil)
	}
}

func UploadProductImage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /api/v1/products/:id/images"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		upload, err := parseImageUpload(c)
		if err != nil {
			respondMultipartError(c, route, err)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 6*dbTimeout)
		defer cancel()

		existing, err := decodeProduct(d.col(colProducts).FindOne(ctx, bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}}))
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		file, err := upload.File.Open()
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		defer file.Close()

		stored, err := d.Images.Save(ctx, upload.File.Filename, upload.File.Header.Get("Content-Type"), file)
		if err != nil {
			if errors.Is(err, storage.ErrImageTooLarge) || errors.Is(err, storage.ErrUnsupportedImage) {
				respondMultipartError(c, route, err)
				return
			}
			respondServerError(c, route, err)
			return
		}

		image := models.ProductImage{
			ID:        uuid.NewString(),
			URL:       stored.URL,
			Key:       stored.Key,
			Alt:       upload.Alt,
			IsPrimary: upload.Primary || len(existing.Images) == 0,
		}

		images := existing.Images
		if image.IsPrimary {
			for i := range images {
				images[i].IsPrimary = false
			}
		}
		images = append(images, image)

		updated, err := decodeProduct(d.col(colProducts).FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"images": images, "updatedAt": d.now()}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		))
		if err != nil {
			if delErr := d.Images.Delete(context.Background(), stored.Key); delErr != nil {
				log.Warn().Err(delErr).Str("key", stored.Key).Msg("orphaned image cleanup failed")
			}
			respondServerError(c, route, err)
			return
		}

		invalidateProductCache(ctx, d)
		d.publish(events.ProductUpdated, id.Hex(), gin.H{"fields": []string{"images"}})
		respondCreated(c, "image uploaded", updated)
	}
}

func DeleteProductImage(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /api/v1/products/:id/images/:imageId"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}
		imageID := strings.TrimSpace(c.Param("imageId"))

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		existing, err := decodeProduct(d.col(colProducts).FindOne(ctx, bson.M{"_id": id}))
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusNotFound, route, "product not found")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		images := make([]models.ProductImage, 0, len(existing.Images))
		var removed *models.ProductImage
		for i, img := range existing.Images {
			if img.ID == imageID {
				removed = &existing.Images[i]
				continue
			}
			images = append(images, img)
		}
		if removed == nil {
			respondWithError(c, http.StatusNotFound, route, "image not found")
			return
		}
		if removed.IsPrimary && len(images) > 0 {
			images[0].IsPrimary = true
		}

		updated, err := decodeProduct(d.col(colProducts).FindOneAndUpdate(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"images": images, "updatedAt": d.now()}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		))
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		if removed.Key != "" {
			if err := d.Images.Delete(ctx, removed.Key); err != nil {
				log.Warn().Err(err).Str("key", removed.Key).Msg("image delete failed")
			}
		}

		invalidateProductCache(ctx, d)
		respondOK(c, "image deleted", updated)
	}
}

// inventoryUpdate turns an inventory request into a guarded filter and update.
// A negative delta only applies while enough stock remains.
func inventoryUpdate(id primitive.ObjectID, req InventoryRequest) (bson.M, bson.M, error) {
	if (req.Stock == nil) == (req.Delta == nil) {
		return nil, nil, errors.New("exactly one of stock or delta is required")
	}

	field := "stock"
	filter := bson.M{"_id": id, "isDeleted": bson.M{"$ne": true}}
	if sku := strings.ToUpper(strings.TrimSpace(req.VariantSKU)); sku != "" {
		filter["variants.sku"] = sku
		field = "variants.$.stock"
	}

	if req.Stock != nil {
		return filter, bson.M{"$set": bson.M{field: *req.Stock}}, nil
	}

	if *req.Delta < 0 {
		if field == "stock" {
			filter["stock"] = bson.M{"$gte": -*req.Delta}
		} else {
			filter["variants"] = bson.M{"$elemMatch": bson.M{"sku": filter["variants.sku"], "stock": bson.M{"$gte": -*req.Delta}}}
			delete(filter, "variants.sku")
		}
	}
	return filter, bson.M{"$inc": bson.M{field: *req.Delta}}, nil
}

func UpdateInventory(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PATCH /api/v1/products/:id/inventory"

		id, ok := parseObjectIDParam(c, "id", route)
		if !ok {
			return
		}

		var req InventoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		filter, update, err := inventoryUpdate(id, req)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}
		update["$set"] = mergeSet(update["$set"], bson.M{"updatedAt": d.now()})

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		updated, err := decodeProduct(d.col(colProducts).FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		))
		if errors.Is(err, mongo.ErrNoDocuments) {
			respondWithError(c, http.StatusConflict, route, "product or variant not found, or insufficient stock")
			return
		}
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		if updated.Stock <= updated.LowStockThreshold {
			log.Warn().Str("product_id", id.Hex()).Int("stock", updated.Stock).Msg("low stock")
		}

		invalidateProductCache(ctx, d)
		d.publish(events.ProductUpdated, id.Hex(), gin.H{"fields": []string{"stock"}})
		respondOK(c, "inventory updated", updated)
	}
}

func mergeSet(existing any, extra bson.M) bson.M {
	out := bson.M{}
	if m, ok := existing.(bson.M); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func mapKeys(input bson.M) []string {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	return keys
}
