package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ProductImage struct {
	ID        string `bson:"id" json:"id"`
	URL       string `bson:"url" json:"url"`
	Key       string `bson:"key" json:"-"`
	Alt       string `bson:"alt,omitempty" json:"alt,omitempty"`
	IsPrimary bool   `bson:"isPrimary" json:"isPrimary"`
}

type Variant struct {
	SKU             string            `bson:"sku" json:"sku"`
	Name            string            `bson:"name" json:"name"`
	Options         map[string]string `bson:"options,omitempty" json:"options,omitempty"`
	PriceAdjustment float64           `bson:"priceAdjustment" json:"priceAdjustment"`
	Stock           int               `bson:"stock" json:"stock"`
}

type Rating struct {
	Average float64 `bson:"average" json:"average"`
	Count   int     `bson:"count" json:"count"`
}

type SEO struct {
	MetaTitle       string `bson:"metaTitle,omitempty" json:"metaTitle,omitempty"`
	MetaDescription string `bson:"metaDescription,omitempty" json:"metaDescription,omitempty"`
}

type Product struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name              string              `bson:"name" json:"name"`
	Slug              string              `bson:"slug" json:"slug"`
	SKU               string              `bson:"sku" json:"sku"`
	Description       string              `bson:"description,omitempty" json:"description,omitempty"`
	Price             float64             `bson:"price" json:"price"`
	SaleEnabled       bool                `bson:"saleEnabled" json:"saleEnabled"`
	SalePrice         float64             `bson:"salePrice" json:"salePrice"`
	IsOnSale          bool                `bson:"-" json:"isOnSale"`
	CategoryID        *primitive.ObjectID `bson:"categoryId,omitempty" json:"categoryId,omitempty"`
	Brand             string              `bson:"brand,omitempty" json:"brand,omitempty"`
	Tags              StringList          `bson:"tags" json:"tags"`
	Images            []ProductImage      `bson:"images" json:"images"`
	Stock             int                 `bson:"stock" json:"stock"`
	InStock           bool                `bson:"-" json:"inStock"`
	LowStockThreshold int                 `bson:"lowStockThreshold" json:"lowStockThreshold"`
	Variants          []Variant           `bson:"variants" json:"variants"`
	Rating            Rating              `bson:"rating" json:"rating"`
	SoldCount         int                 `bson:"soldCount" json:"soldCount"`
	IsActive          bool                `bson:"isActive" json:"isActive"`
	IsFeatured        bool                `bson:"isFeatured" json:"isFeatured"`
	IsDeleted         bool                `bson:"isDeleted" json:"isDeleted,omitempty"`
	DeletedAt         *time.Time          `bson:"deletedAt,omitempty" json:"deletedAt,omitempty"`
	SEO               SEO                 `bson:"seo" json:"seo"`
	CreatedAt         time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// FindVariant looks a variant up by SKU.
func (p Product) FindVariant(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}

// AvailableStock is the stock of the variant when sku is set, otherwise the
// product level stock.
func (p Product) AvailableStock(sku string) int {
	if sku == "" {
		return p.Stock
	}
	if v, ok := p.FindVariant(sku); ok {
		return v.Stock
	}
	return 0
}

func (p Product) PrimaryImage() string {
	for _, img := range p.Images {
		if img.IsPrimary {
			return img.URL
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0].URL
	}
	return ""
}
