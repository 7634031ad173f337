package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexPlanCoversUniqueKeys(t *testing.T) {
	unique := map[string][]string{}
	for _, plan := range indexPlan() {
		for _, model := range plan.models {
			opts := model.Options
			if opts == nil || opts.Unique == nil || !*opts.Unique {
				continue
			}
			unique[plan.collection] = append(unique[plan.collection], *opts.Name)
		}
	}

	assert.Contains(t, unique["users"], "email_unique")
	assert.Contains(t, unique["products"], "sku_unique")
	assert.Contains(t, unique["products"], "slug_unique")
	assert.Contains(t, unique["categories"], "slug_unique")
	assert.Contains(t, unique["coupons"], "code_unique")
	assert.Contains(t, unique["reviews"], "product_user_unique")
	assert.Contains(t, unique["orders"], "orderNumber_unique")
}

func TestRefreshTokensExpireByTTL(t *testing.T) {
	for _, plan := range indexPlan() {
		if plan.collection != "refresh_tokens" {
			continue
		}
		for _, model := range plan.models {
			opts := model.Options
			if opts.ExpireAfterSeconds != nil {
				assert.Equal(t, int32(0), *opts.ExpireAfterSeconds)
				return
			}
		}
	}
	t.Fatal("refresh_tokens has no TTL index")
}
