package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type CacheSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	cache *Cache
	ctx   context.Context
}

func (s *CacheSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.cache = New(client, "sf")
	s.ctx = context.Background()
}

func (s *CacheSuite) TestGetSetWithPrefix() {
	s.Require().NoError(s.cache.Set(s.ctx, "greeting", "hello", time.Minute))

	val, err := s.cache.Get(s.ctx, "greeting")
	s.Require().NoError(err)
	s.Equal("hello", val)

	raw, err := s.mr.Get("sf:greeting")
	s.Require().NoError(err)
	s.Equal("hello", raw)
}

func (s *CacheSuite) TestMissReturnsErrMiss() {
	_, err := s.cache.Get(s.ctx, "absent")
	s.ErrorIs(err, ErrMiss)

	var dst map[string]any
	s.ErrorIs(s.cache.GetJSON(s.ctx, "absent", &dst), ErrMiss)
}

func (s *CacheSuite) TestJSONRoundTrip() {
	type payload struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	s.Require().NoError(s.cache.SetJSON(s.ctx, "product:1", payload{Name: "Mug", Price: 9.5}, time.Minute))

	var got payload
	s.Require().NoError(s.cache.GetJSON(s.ctx, "product:1", &got))
	s.Equal(payload{Name: "Mug", Price: 9.5}, got)
}

func (s *CacheSuite) TestTTLExpires() {
	s.Require().NoError(s.cache.Set(s.ctx, "short", "v", time.Second))
	s.mr.FastForward(2 * time.Second)

	ok, err := s.cache.Exists(s.ctx, "short")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CacheSuite) TestDeletePatternOnlyTouchesMatches() {
	for _, k := range []string{"products:list:a", "products:list:b", "products:item:x", "orders:1"} {
		s.Require().NoError(s.cache.Set(s.ctx, k, "1", time.Minute))
	}

	n, err := s.cache.DeletePattern(s.ctx, "products:*")
	s.Require().NoError(err)
	s.Equal(3, n)

	ok, err := s.cache.Exists(s.ctx, "orders:1")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *CacheSuite) TestIncrSetsTTLOnFirstHit() {
	n, err := s.cache.Incr(s.ctx, "rl:ip", time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.cache.Incr(s.ctx, "rl:ip", time.Minute)
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	s.Equal(time.Minute, s.mr.TTL("sf:rl:ip"))
}

func (s *CacheSuite) TestDeleteAndPing() {
	s.Require().NoError(s.cache.Set(s.ctx, "a", "1", 0))
	s.Require().NoError(s.cache.Delete(s.ctx, "a"))
	s.NoError(s.cache.Delete(s.ctx))
	s.False(s.mr.Exists("sf:a"))
	s.NoError(s.cache.Ping(s.ctx))
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func TestNoopMissesAndRefusesWrites(t *testing.T) {
	ctx := context.Background()
	var store Store = Noop{}

	assert.ErrorIs(t, store.Set(ctx, "k", "v", time.Minute), ErrUnavailable)
	assert.ErrorIs(t, store.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute), ErrUnavailable)
	_, err := store.Incr(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, store.Delete(ctx, "k"))
	assert.ErrorIs(t, store.Ping(ctx), ErrUnavailable)
}
