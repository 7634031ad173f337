package pricing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestValidateSaleMissingSalePrice(t *testing.T) {
	assert.Error(t, ValidateSale(100, true, 0, false))
}

func TestValidateSaleRejectsSalePriceAtOrAbovePrice(t *testing.T) {
	for _, salePrice := range []float64{100, 120} {
		assert.Error(t, ValidateSale(100, true, salePrice, true), "salePrice=%v", salePrice)
	}
	assert.NoError(t, ValidateSale(100, false, 120, true))
}

func TestEffectivePriceUsesSalePriceWhenOnSale(t *testing.T) {
	assert.Equal(t, 75.0, EffectivePrice(100, true, 75))
	assert.Equal(t, 100.0, EffectivePrice(100, false, 75))
	assert.Equal(t, 100.0, EffectivePrice(100, true, 0))
}

func TestResolveSaleUpdateDisablingClearsSalePrice(t *testing.T) {
	existing := models.Product{Price: 100, SaleEnabled: true, SalePrice: 80}

	got, err := ResolveSaleUpdate(existing, SaleUpdate{SaleEnabled: ptr(false)})
	require.NoError(t, err)
	assert.False(t, got.SaleEnabled)
	assert.Zero(t, got.SalePrice)
	assert.True(t, got.SetSalePrice)
}

func TestResolveSaleUpdateRevalidatesAgainstNewPrice(t *testing.T) {
	existing := models.Product{Price: 100, SaleEnabled: true, SalePrice: 80}

	_, err := ResolveSaleUpdate(existing, SaleUpdate{Price: ptr(70.0)})
	assert.Error(t, err)

	got, err := ResolveSaleUpdate(existing, SaleUpdate{Price: ptr(90.0), SalePrice: ptr(60.0)})
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.Price)
	assert.Equal(t, 60.0, got.SalePrice)
}

func TestUnitPriceAddsVariantAdjustment(t *testing.T) {
	p := models.Product{
		Price: 20, SaleEnabled: true, SalePrice: 15,
		Variants: []models.Variant{{SKU: "XL", PriceAdjustment: 2.5}},
	}
	assert.Equal(t, 17.5, UnitPrice(p, "XL"))
	assert.Equal(t, 15.0, UnitPrice(p, ""))
	assert.Equal(t, 15.0, UnitPrice(p, "missing"))
}

func TestDecoratedProductJSONIncludesSaleFields(t *testing.T) {
	p := models.Product{Name: "Test", Price: 120, SaleEnabled: true, SalePrice: 99, Stock: 10}
	Decorate(&p)

	body, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"salePrice":99`)
	assert.Contains(t, string(body), `"isOnSale":true`)
	assert.Contains(t, string(body), `"inStock":true`)
	assert.Contains(t, string(body), `"tags":[]`)
}
