package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/cache"
)

func TestDenylistExpiresWithToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deny := NewDenylist(cache.New(client, "test"))
	_, claims, err := NewIssuer("secret", time.Minute).Issue(primitive.NewObjectID(), "a@b.c", "customer")
	require.NoError(t, err)

	ctx := context.Background()
	revoked, err := deny.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, deny.Revoke(ctx, claims))
	revoked, err = deny.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = deny.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.False(t, revoked)
}
