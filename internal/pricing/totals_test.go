package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storefront/internal/models"
)

var rules = Rules{TaxRate: 0.08, ShippingFlatRate: 5.99, FreeShippingThreshold: 50}

func TestComputeWithoutCoupon(t *testing.T) {
	got := rules.Compute([]Line{{UnitPrice: 10, Quantity: 2}, {UnitPrice: 15.5, Quantity: 1}}, nil)

	assert.Equal(t, models.OrderTotals{Subtotal: 35.5, Discount: 0, Shipping: 5.99, Tax: 2.84, Total: 44.33}, got)
}

func TestComputeEmptyCartIsZero(t *testing.T) {
	assert.Equal(t, models.OrderTotals{}, rules.Compute(nil, nil))
}

func TestComputeCoupons(t *testing.T) {
	lines60 := []Line{{UnitPrice: 30, Quantity: 2}}

	tests := []struct {
		name   string
		lines  []Line
		coupon models.Coupon
		want   models.OrderTotals
	}{
		{
			name:   "percentage crosses free shipping threshold",
			lines:  lines60,
			coupon: models.Coupon{Type: models.CouponPercentage, Value: 10},
			want:   models.OrderTotals{Subtotal: 60, Discount: 6, Shipping: 0, Tax: 4.32, Total: 58.32},
		},
		{
			name:   "percentage capped by max discount",
			lines:  lines60,
			coupon: models.Coupon{Type: models.CouponPercentage, Value: 50, MaxDiscount: 10},
			want:   models.OrderTotals{Subtotal: 60, Discount: 10, Shipping: 0, Tax: 4, Total: 54},
		},
		{
			name:   "fixed never exceeds subtotal",
			lines:  []Line{{UnitPrice: 30, Quantity: 1}},
			coupon: models.Coupon{Type: models.CouponFixed, Value: 100},
			want:   models.OrderTotals{Subtotal: 30, Discount: 30, Shipping: 5.99, Tax: 0, Total: 5.99},
		},
		{
			name:   "free shipping zeroes shipping only",
			lines:  []Line{{UnitPrice: 20, Quantity: 1}},
			coupon: models.Coupon{Type: models.CouponFreeShipping},
			want:   models.OrderTotals{Subtotal: 20, Discount: 0, Shipping: 0, Tax: 1.6, Total: 21.6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coupon := tt.coupon
			assert.Equal(t, tt.want, rules.Compute(tt.lines, &coupon))
		})
	}
}

func TestRoundingAndMinorUnits(t *testing.T) {
	assert.Equal(t, 0.13, Round(0.125))
	assert.Equal(t, 59.97, LineTotal(19.99, 3))
	assert.Equal(t, int64(4433), MinorUnits(44.33))
	assert.Equal(t, 44.33, FromMinorUnits(4433))
}
