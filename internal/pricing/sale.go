package pricing

import (
	"fmt"

	"storefront/internal/models"
)

type SaleUpdate struct {
	Price       *float64
	SaleEnabled *bool
	SalePrice   *float64
}

type SaleResult struct {
	Price          float64
	SaleEnabled    bool
	SalePrice      float64
	SetSaleEnabled bool
	SetSalePrice   bool
}

func IsOnSale(price float64, saleEnabled bool, salePrice float64) bool {
	return saleEnabled && salePrice > 0 && salePrice < price
}

func EffectivePrice(price float64, saleEnabled bool, salePrice float64) float64 {
	if IsOnSale(price, saleEnabled, salePrice) {
		return salePrice
	}
	return price
}

// UnitPrice is the effective product price plus the variant adjustment.
func UnitPrice(p models.Product, variantSKU string) float64 {
	price := EffectivePrice(p.Price, p.SaleEnabled, p.SalePrice)
	if variantSKU != "" {
		if v, ok := p.FindVariant(variantSKU); ok {
			price += v.PriceAdjustment
		}
	}
	if price < 0 {
		return 0
	}
	return Round(price)
}

// Decorate fills the computed, non-persisted product fields.
func Decorate(p *models.Product) {
	p.IsOnSale = IsOnSale(p.Price, p.SaleEnabled, p.SalePrice)
	stock := p.Stock
	for _, v := range p.Variants {
		stock += v.Stock
	}
	p.InStock = stock > 0
	if p.Tags == nil {
		p.Tags = models.StringList{}
	}
	if p.Images == nil {
		p.Images = []models.ProductImage{}
	}
	if p.Variants == nil {
		p.Variants = []models.Variant{}
	}
}

func ValidateSale(price float64, saleEnabled bool, salePrice float64, salePriceSet bool) error {
	if !saleEnabled {
		return nil
	}
	if !salePriceSet {
		return fmt.Errorf("salePrice is required when saleEnabled is true")
	}
	if salePrice <= 0 {
		return fmt.Errorf("salePrice must be greater than 0")
	}
	if salePrice >= price {
		return fmt.Errorf("salePrice must be less than price")
	}
	return nil
}

// ResolveSaleUpdate merges a partial update into the stored sale fields.
// Disabling the sale clears the sale price.
func ResolveSaleUpdate(existing models.Product, input SaleUpdate) (SaleResult, error) {
	result := SaleResult{
		Price:       existing.Price,
		SaleEnabled: existing.SaleEnabled,
		SalePrice:   existing.SalePrice,
	}

	if input.Price != nil {
		result.Price = *input.Price
	}

	salePriceSet := existing.SalePrice > 0

	if input.SaleEnabled != nil {
		result.SaleEnabled = *input.SaleEnabled
		result.SetSaleEnabled = true
		if !*input.SaleEnabled {
			result.SalePrice = 0
			result.SetSalePrice = true
			salePriceSet = false
		}
	}

	if input.SalePrice != nil {
		result.SalePrice = *input.SalePrice
		result.SetSalePrice = true
		salePriceSet = true
	}

	if err := ValidateSale(result.Price, result.SaleEnabled, result.SalePrice, salePriceSet); err != nil {
		return SaleResult{}, err
	}
	return result, nil
}
