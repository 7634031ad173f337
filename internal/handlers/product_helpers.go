package handlers

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
	"storefront/internal/pricing"
)

const productCachePattern = "products:*"

// normalizeProductDocument coerces numeric fields written by older imports
// (strings, int32, int64) before decoding into a Product.
func normalizeProductDocument(raw bson.M) (models.Product, error) {
	for _, field := range []string{"stock", "lowStockThreshold", "soldCount"} {
		raw[field] = toInt(raw[field])
	}
	for _, field := range []string{"price", "salePrice"} {
		raw[field] = toFloat(raw[field])
	}
	if v, ok := raw["saleEnabled"].(string); ok {
		raw["saleEnabled"] = v == "true"
	}

	data, err := bson.Marshal(raw)
	if err != nil {
		return models.Product{}, err
	}

	var p models.Product
	if err := bson.Unmarshal(data, &p); err != nil {
		return models.Product{}, err
	}

	pricing.Decorate(&p)
	return p, nil
}

func toInt(v any) int {
	switch typed := v.(type) {
	case int32:
		return int(typed)
	case int64:
		return int(typed)
	case int:
		return typed
	case float64:
		return int(typed)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(typed))
		return n
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case int:
		return float64(typed)
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(typed.String(), 64)
		if err != nil {
			return 0
		}
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return f
	default:
		return 0
	}
}

func decodeProducts(ctx context.Context, cursor *mongo.Cursor) ([]models.Product, error) {
	defer cursor.Close(ctx)

	products := make([]models.Product, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}

		product, err := normalizeProductDocument(raw)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}

	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func decodeProduct(result *mongo.SingleResult) (models.Product, error) {
	var raw bson.M
	if err := result.Decode(&raw); err != nil {
		return models.Product{}, err
	}
	return normalizeProductDocument(raw)
}

func visibleProductFilter() bson.M {
	return bson.M{"isActive": true, "isDeleted": bson.M{"$ne": true}}
}

// productRefFilter matches a product by hex id or slug.
func productRefFilter(ref string) bson.M {
	ref = strings.TrimSpace(ref)
	if id, err := primitive.ObjectIDFromHex(ref); err == nil {
		return bson.M{"_id": id}
	}
	return bson.M{"slug": strings.ToLower(ref)}
}

func invalidateProductCache(ctx context.Context, d *Deps) {
	n, err := d.Cache.DeletePattern(ctx, productCachePattern)
	if err != nil {
		log.Warn().Err(err).Msg("product cache invalidation failed")
		return
	}
	log.Debug().Int("keys", n).Msg("product cache invalidated")
}

func validateVariants(variants []models.Variant) error {
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		sku := strings.TrimSpace(v.SKU)
		if sku == "" {
			return fmt.Errorf("variant sku is required")
		}
		if _, dup := seen[sku]; dup {
			return fmt.Errorf("duplicate variant sku %s", sku)
		}
		if v.Stock < 0 {
			return fmt.Errorf("variant %s stock cannot be negative", sku)
		}
		if math.IsNaN(v.PriceAdjustment) || math.IsInf(v.PriceAdjustment, 0) {
			return fmt.Errorf("variant %s priceAdjustment is invalid", sku)
		}
		seen[sku] = struct{}{}
	}
	return nil
}
