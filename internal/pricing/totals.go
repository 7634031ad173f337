package pricing

import (
	"github.com/shopspring/decimal"

	"storefront/internal/models"
)

type Rules struct {
	TaxRate               float64
	ShippingFlatRate      float64
	FreeShippingThreshold float64
}

type Line struct {
	UnitPrice float64
	Quantity  int
}

var hundred = decimal.NewFromInt(100)

// Round rounds half away from zero to cents.
func Round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func LineTotal(unitPrice float64, quantity int) float64 {
	return decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromInt(int64(quantity))).Round(2).InexactFloat64()
}

func subtotalOf(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(l.UnitPrice).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Compute returns the order totals for lines. coupon must already have passed
// CheckCoupon; nil means no coupon.
func (r Rules) Compute(lines []Line, coupon *models.Coupon) models.OrderTotals {
	subtotal := subtotalOf(lines)
	discount := decimal.Zero
	freeShipping := false
	if coupon != nil {
		discount = discountFor(*coupon, subtotal)
		freeShipping = coupon.Type == models.CouponFreeShipping
	}

	net := subtotal.Sub(discount)
	if net.IsNegative() {
		net = decimal.Zero
	}

	shipping := decimal.NewFromFloat(r.ShippingFlatRate)
	switch {
	case len(lines) == 0 || subtotal.IsZero():
		shipping = decimal.Zero
	case freeShipping:
		shipping = decimal.Zero
	case r.FreeShippingThreshold > 0 && net.GreaterThanOrEqual(decimal.NewFromFloat(r.FreeShippingThreshold)):
		shipping = decimal.Zero
	}

	tax := net.Mul(decimal.NewFromFloat(r.TaxRate)).Round(2)
	total := net.Add(shipping).Add(tax)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return models.OrderTotals{
		Subtotal: subtotal.Round(2).InexactFloat64(),
		Discount: discount.Round(2).InexactFloat64(),
		Shipping: shipping.Round(2).InexactFloat64(),
		Tax:      tax.InexactFloat64(),
		Total:    total.Round(2).InexactFloat64(),
	}
}

// MinorUnits converts an amount to the smallest currency unit.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(amount int64) float64 {
	return decimal.NewFromInt(amount).Div(hundred).InexactFloat64()
}
