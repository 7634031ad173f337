package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
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

var productSorts = map[string]bson.D{
	"newest":     {{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
	"price_asc":  {{Key: "price", Value: 1}, {Key: "_id", Value: 1}},
	"price_desc": {{Key: "price", Value: -1}, {Key: "_id", Value: -1}},
	"rating":     {{Key: "rating.average", Value: -1}, {Key: "rating.count", Value: -1}, {Key: "_id", Value: -1}},
	"popular":    {{Key: "soldCount", Value: -1}, {Key: "rating.count", Value: -1}, {Key: "_id", Value: -1}},
}

type productListQuery struct {
	Category string
	Search   string
	MinPrice *float64
	MaxPrice *float64
	Brand    string
	Featured *bool
	InStock  bool
	Sort     string
	Page     pagination
}

var errInvalidFilter = errors.New("invalid product filter")

func parseProductListQuery(values url.Values) (productListQuery, error) {
	page, err := parsePaginationParams(values.Get("page"), values.Get("limit"))
	if err != nil {
		return productListQuery{}, err
	}

	q := productListQuery{
		Category: strings.TrimSpace(values.Get("category")),
		Search:   strings.TrimSpace(values.Get("search")),
		Brand:    strings.TrimSpace(values.Get("brand")),
		Sort:     strings.TrimSpace(values.Get("sort")),
		Page:     page,
	}
	if q.Sort == "" {
		q.Sort = "newest"
	}
	if _, ok := productSorts[q.Sort]; !ok {
		return productListQuery{}, errInvalidFilter
	}

	parsePrice := func(key string) (*float64, error) {
		raw := strings.TrimSpace(values.Get(key))
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return nil, errInvalidFilter
		}
		return &v, nil
	}
	if q.MinPrice, err = parsePrice("minPrice"); err != nil {
		return productListQuery{}, err
	}
	if q.MaxPrice, err = parsePrice("maxPrice"); err != nil {
		return productListQuery{}, err
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return productListQuery{}, errInvalidFilter
	}

	if raw := strings.TrimSpace(values.Get("featured")); raw != "" {
		v, err := parseBoolValue(raw)
		if err != nil {
			return productListQuery{}, errInvalidFilter
		}
		q.Featured = &v
	}
	if raw := strings.TrimSpace(values.Get("inStock")); raw != "" {
		v, err := parseBoolValue(raw)
		if err != nil {
			return productListQuery{}, errInvalidFilter
		}
		q.InStock = v
	}
	return q, nil
}

// cacheKey is stable for equivalent queries regardless of parameter order.
func (q productListQuery) cacheKey() string {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("category", strings.ToLower(q.Category))
	set("search", strings.ToLower(q.Search))
	set("brand", strings.ToLower(q.Brand))
	set("sort", q.Sort)
	if q.MinPrice != nil {
		set("minPrice", strconv.FormatFloat(*q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice != nil {
		set("maxPrice", strconv.FormatFloat(*q.MaxPrice, 'f', -1, 64))
	}
	if q.Featured != nil {
		set("featured", strconv.FormatBool(*q.Featured))
	}
	if q.InStock {
		set("inStock", "true")
	}
	set("page", strconv.FormatInt(q.Page.Page, 10))
	set("limit", strconv.FormatInt(q.Page.Limit, 10))
	return "products:list:" + v.Encode()
}

// filter builds the Mongo filter. categoryIDs holds the resolved category and
// its descendants and is nil when no category filter applies.
func (q productListQuery) filter(categoryIDs []primitive.ObjectID) bson.M {
	filter := visibleProductFilter()

	if categoryIDs != nil {
		filter["categoryId"] = bson.M{"$in": categoryIDs}
	}
	if q.Search != "" {
		filter["$text"] = bson.M{"$search": q.Search}
	}
	if q.Brand != "" {
		filter["brand"] = bson.M{"$regex": "^" + regexp.QuoteMeta(q.Brand) + "$", "$options": "i"}
	}
	if q.MinPrice != nil || q.MaxPrice != nil {
		price := bson.M{}
		if q.MinPrice != nil {
			price["$gte"] = *q.MinPrice
		}
		if q.MaxPrice != nil {
			price["$lte"] = *q.MaxPrice
		}
		filter["price"] = price
	}
	if q.Featured != nil {
		filter["isFeatured"] = *q.Featured
	}
	if q.InStock {
		filter["$or"] = bson.A{
			bson.M{"stock": bson.M{"$gt": 0}},
			bson.M{"variants.stock": bson.M{"$gt": 0}},
		}
	}
	return filter
}

type productPage struct {
	Data       []models.Product `json:"data"`
	Pagination gin.H            `json:"pagination"`
}

func GetProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products"

		q, err := parseProductListQuery(c.Request.URL.Query())
		if err != nil {
			respondWithError(c, http.StatusBadRequest, route, err.Error())
			return
		}

		if err := ensureDBConnection(c.Request.Context(), d.DB); err != nil {
			respondWithError(c, http.StatusServiceUnavailable, route, "database unavailable")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		key := q.cacheKey()
		var cached productPage
		if err := d.Cache.GetJSON(ctx, key, &cached); err == nil {
			c.Header("X-Cache", "HIT")
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok", "data": cached.Data, "pagination": cached.Pagination})
			return
		}

		var categoryIDs []primitive.ObjectID
		if q.Category != "" {
			category, err := findCategory(ctx, d.DB, q.Category)
			if errors.Is(err, mongo.ErrNoDocuments) {
				respondPage(c, []models.Product{}, q.Page, 0)
				return
			}
			if err != nil {
				respondServerError(c, route, err)
				return
			}
			all, err := loadCategories(ctx, d.DB, bson.M{"isActive": true})
			if err != nil {
				respondServerError(c, route, err)
				return
			}
			categoryIDs = models.DescendantIDs(all, category.ID)
		}

		filter := q.filter(categoryIDs)

		total, err := d.col(colProducts).CountDocuments(ctx, filter)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		opts := options.Find().
			SetSort(productSorts[q.Sort]).
			SetSkip(q.Page.skip()).
			SetLimit(q.Page.Limit)
		cursor, err := d.col(colProducts).Find(ctx, filter, opts)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		products, err := decodeProducts(ctx, cursor)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		page := productPage{Data: products, Pagination: q.Page.meta(total)}
		if err := d.Cache.SetJSON(ctx, key, page, d.CacheTTL); err != nil {
			log.Debug().Err(err).Str("route", route).Msg("product cache write failed")
		}

		c.Header("X-Cache", "MISS")
		respondPage(c, products, q.Page, total)
	}
}

func GetFeaturedProducts(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products/featured"

		limit := int64(8)
		if raw := c.Query("limit"); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 1 {
				respondWithError(c, http.StatusBadRequest, route, "invalid limit")
				return
			}
			limit = min(v, maxPageLimit)
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		key := "products:featured:" + strconv.FormatInt(limit, 10)
		var products []models.Product
		if err := d.Cache.GetJSON(ctx, key, &products); err == nil {
			respondOK(c, "ok", products)
			return
		}

		filter := visibleProductFilter()
		filter["isFeatured"] = true
		opts := options.Find().
			SetSort(bson.D{{Key: "rating.average", Value: -1}, {Key: "createdAt", Value: -1}}).
			SetLimit(limit)
		cursor, err := d.col(colProducts).Find(ctx, filter, opts)
		if err != nil {
			respondServerError(c, route, err)
			return
		}
		products, err = decodeProducts(ctx, cursor)
		if err != nil {
			respondServerError(c, route, err)
			return
		}

		_ = d.Cache.SetJSON(ctx, key, products, d.CacheTTL)
		respondOK(c, "ok", products)
	}
}

// GetProduct serves a product by id or slug. Signed-in callers get a view
// recorded for recommendations.
func GetProduct(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /api/v1/products/:id"

		ref := strings.TrimSpace(c.Param("id"))
		if ref == "" {
			respondWithError(c, http.StatusBadRequest, route, "invalid product")
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), dbTimeout)
		defer cancel()

		key := "products:item:" + strings.ToLower(ref)
		var product models.Product
		if err := d.Cache.GetJSON(ctx, key, &product); err != nil {
			filter := productRefFilter(ref)
			for k, v := range visibleProductFilter() {
				filter[k] = v
			}
			product, err = decodeProduct(d.col(colProducts).FindOne(ctx, filter))
			if errors.Is(err, mongo.ErrNoDocuments) {
				respondWithError(c, http.StatusNotFound, route, "product not found")
				return
			}
			if err != nil {
				respondServerError(c, route, err)
				return
			}
			_ = d.Cache.SetJSON(ctx, key, product, d.CacheTTL)
		}

		if userID, ok := middleware.CurrentUserID(c); ok {
			trackBehavior(d, userID, product.ID, models.BehaviorView)
		}

		respondOK(c, "ok", product)
	}
}

func loadProductsByIDs(ctx context.Context, d *Deps, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error) {
	out := make(map[primitive.ObjectID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cursor, err := d.col(colProducts).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	products, err := decodeProducts(ctx, cursor)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}
