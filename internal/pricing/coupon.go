package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

type CouponReason string

const (
	CouponInactive      CouponReason = "inactive"
	CouponNotStarted    CouponReason = "not_started"
	CouponExpired       CouponReason = "expired"
	CouponExhausted     CouponReason = "usage_limit_reached"
	CouponUserLimit     CouponReason = "user_limit_reached"
	CouponBelowMinimum  CouponReason = "minimum_not_met"
	CouponNotFound      CouponReason = "not_found"
	CouponInvalidConfig CouponReason = "invalid"
)

type CouponError struct {
	Reason CouponReason
	Msg    string
}

func (e *CouponError) Error() string {
	return e.Msg
}

func couponErr(reason CouponReason, format string, args ...any) *CouponError {
	return &CouponError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckCoupon reports whether userID may apply c to a cart with subtotal at now.
func CheckCoupon(c models.Coupon, userID primitive.ObjectID, subtotal float64, now time.Time) error {
	if !c.IsActive {
		return couponErr(CouponInactive, "coupon %s is not active", c.Code)
	}
	if !c.ValidFrom.IsZero() && now.Before(c.ValidFrom) {
		return couponErr(CouponNotStarted, "coupon %s is not valid yet", c.Code)
	}
	if !c.ValidUntil.IsZero() && now.After(c.ValidUntil) {
		return couponErr(CouponExpired, "coupon %s has expired", c.Code)
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return couponErr(CouponExhausted, "coupon %s usage limit reached", c.Code)
	}
	if c.PerUserLimit > 0 && c.UsesBy(userID) >= c.PerUserLimit {
		return couponErr(CouponUserLimit, "coupon %s already used the maximum number of times", c.Code)
	}
	if c.MinOrderAmount > 0 && subtotal < c.MinOrderAmount {
		return couponErr(CouponBelowMinimum, "coupon %s requires a minimum order of %.2f", c.Code, c.MinOrderAmount)
	}
	return nil
}

// ValidateCouponDefinition checks the admin supplied coupon fields.
func ValidateCouponDefinition(c models.Coupon) error {
	switch c.Type {
	case models.CouponPercentage:
		if c.Value <= 0 || c.Value > 100 {
			return couponErr(CouponInvalidConfig, "percentage value must be in (0,100]")
		}
	case models.CouponFixed:
		if c.Value <= 0 {
			return couponErr(CouponInvalidConfig, "fixed value must be greater than 0")
		}
	case models.CouponFreeShipping:
	default:
		return couponErr(CouponInvalidConfig, "unknown coupon type %q", c.Type)
	}
	if c.MaxDiscount < 0 || c.MinOrderAmount < 0 || c.UsageLimit < 0 || c.PerUserLimit < 0 {
		return couponErr(CouponInvalidConfig, "limits must not be negative")
	}
	if !c.ValidFrom.IsZero() && !c.ValidUntil.IsZero() && !c.ValidUntil.After(c.ValidFrom) {
		return couponErr(CouponInvalidConfig, "validUntil must be after validFrom")
	}
	return nil
}

func CouponDiscount(c models.Coupon, subtotal float64) float64 {
	return discountFor(c, decimal.NewFromFloat(subtotal)).Round(2).InexactFloat64()
}

func discountFor(c models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Type {
	case models.CouponPercentage:
		d = subtotal.Mul(decimal.NewFromFloat(c.Value)).Div(hundred)
		if c.MaxDiscount > 0 {
			d = decimal.Min(d, decimal.NewFromFloat(c.MaxDiscount))
		}
	case models.CouponFixed:
		d = decimal.Min(decimal.NewFromFloat(c.Value), subtotal)
	default:
		d = decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
