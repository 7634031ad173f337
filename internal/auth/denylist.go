package auth

import (
	"context"
	"time"

	"storefront/internal/cache"
)

// Denylist records revoked access token ids until they would have expired.
type Denylist struct {
	store cache.Store
}

func NewDenylist(store cache.Store) *Denylist {
	return &Denylist{store: store}
}

func denyKey(jti string) string {
	return "denylist:" + jti
}

func (d *Denylist) Revoke(ctx context.Context, claims *Claims) error {
	ttl := claims.Remaining(time.Now())
	if claims.ID == "" || ttl <= 0 {
		return nil
	}
	return d.store.Set(ctx, denyKey(claims.ID), "1", ttl)
}

func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return d.store.Exists(ctx, denyKey(jti))
}
