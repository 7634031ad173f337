package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/auth"
	"storefront/internal/cache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.New(client, "test"), mr
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func authRouter(t *testing.T) (*gin.Engine, *auth.Issuer, *auth.Denylist) {
	store, _ := newCache(t)
	issuer := auth.NewIssuer("secret", time.Minute)
	deny := auth.NewDenylist(store)
	a := NewAuthenticator(issuer, deny)

	r := gin.New()
	r.GET("/me", a.AuthGuard(), func(c *gin.Context) {
		id, ok := CurrentUserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": id.Hex(), "role": CurrentRole(c)})
	})
	r.GET("/admin", a.AdminAuth(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/maybe", a.OptionalAuth(), func(c *gin.Context) {
		_, ok := CurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})
	return r, issuer, deny
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthGuard(t *testing.T) {
	r, issuer, _ := authRouter(t)
	userID := primitive.NewObjectID()
	token, _, err := issuer.Issue(userID, "a@b.c", "customer")
	require.NoError(t, err)

	w := get(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = get(r, "/me", "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.Hex(), decode(t, w)["id"])

	w = get(r, "/admin", token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken, _, err := issuer.Issue(userID, "a@b.c", "admin")
	require.NoError(t, err)
	w = get(r, "/admin", adminToken)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthGuardRejectsRevokedToken(t *testing.T) {
	r, issuer, deny := authRouter(t)
	token, claims, err := issuer.Issue(primitive.NewObjectID(), "a@b.c", "customer")
	require.NoError(t, err)

	require.NoError(t, deny.Revoke(httptest.NewRequest(http.MethodGet, "/", nil).Context(), claims))

	w := get(r, "/me", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAuth(t *testing.T) {
	r, issuer, _ := authRouter(t)
	token, _, err := issuer.Issue(primitive.NewObjectID(), "a@b.c", "customer")
	require.NoError(t, err)

	assert.Equal(t, false, decode(t, get(r, "/maybe", ""))["authenticated"])
	assert.Equal(t, false, decode(t, get(r, "/maybe", "bad"))["authenticated"])
	assert.Equal(t, true, decode(t, get(r, "/maybe", token))["authenticated"])
}

func TestRateLimit(t *testing.T) {
	store, _ := newCache(t)
	r := gin.New()
	r.GET("/x", RateLimit(store, "api", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
	w := get(r, "/x", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = get(r, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	store, mr := newCache(t)
	mr.Close()

	r := gin.New()
	r.GET("/x", RateLimit(store, "api", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/x", "").Code)
}

func TestRateLimitWithoutRedis(t *testing.T) {
	r := gin.New()
	r.GET("/x", RateLimit(cache.Noop{}, "api", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := get(r, "/x", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(logger))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := get(r, "/items/42", "")
	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, id, entry["request_id"])
	assert.Equal(t, "/items/:id", entry["route"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "warn", entry["level"])
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), Recovery(zerolog.New(&buf)))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := get(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decode(t, w)["message"])
	assert.True(t, strings.Contains(buf.String(), "kaboom"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := gin.New()
	r.Use(m.Handler())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	get(r, "/ping", "")
	get(r, "/ping", "")
	get(r, "/nowhere", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/ping", http.MethodGet, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", http.MethodGet, "404")))
}
