package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"storefront/internal/auth"
	"storefront/internal/cache"
	"storefront/internal/mailer"
	"storefront/internal/middleware"
	"storefront/internal/payment"
	"storefront/internal/pricing"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newMockMongo(t *testing.T) *mtest.T {
	return mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
}

func newTestDeps(t *testing.T, db *mongo.Database) (*Deps, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := cache.New(client, "test")
	return &Deps{
		DB:         db,
		Cache:      store,
		Issuer:     auth.NewIssuer("test-secret", 15*time.Minute),
		Denylist:   auth.NewDenylist(store),
		RefreshTTL: 24 * time.Hour,
		Pricing:    pricing.Rules{TaxRate: 0.1, ShippingFlatRate: 5, FreeShippingThreshold: 100},
		Currency:   "USD",
		CacheTTL:   time.Minute,
		Now:        func() time.Time { return testNow },
	}, mr
}

// toDoc turns a model into the bson.D shape mock cursor responses need.
func toDoc(t *testing.T, v any) bson.D {
	t.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(t, err)
	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	return doc
}

func findResponse(t *testing.T, ns string, docs ...any) bson.D {
	batch := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, toDoc(t, d))
	}
	return mtest.CreateCursorResponse(0, "storefront."+ns, mtest.FirstBatch, batch...)
}

func updateResponse(matched, modified int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: matched}, bson.E{Key: "nModified", Value: modified})
}

// countResponse answers the aggregate behind CountDocuments.
func countResponse(ns string, n int) bson.D {
	if n == 0 {
		return mtest.CreateCursorResponse(0, "storefront."+ns, mtest.FirstBatch)
	}
	return mtest.CreateCursorResponse(0, "storefront."+ns, mtest.FirstBatch, bson.D{{Key: "n", Value: n}})
}

// sentCommands returns the commands named name that targeted collection.
func sentCommands(mt *mtest.T, name, collection string) []bson.Raw {
	var out []bson.Raw
	for _, evt := range mt.GetAllStartedEvents() {
		if evt.CommandName != name {
			continue
		}
		if v, err := evt.Command.LookupErr(name); err == nil && v.StringValue() == collection {
			out = append(out, evt.Command)
		}
	}
	return out
}

// captureLogs points the global logger at a buffer for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

type fakeGateway struct {
	mu sync.Mutex

	intent    payment.Intent
	createErr error
	cancelErr error
	refundErr error
	event     payment.WebhookEvent

	requests []payment.IntentRequest
	cancels  []string
	refunds  []string
}

var _ payment.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.intent, g.createErr
}

func (g *fakeGateway) GetIntent(context.Context, string) (payment.Intent, error) {
	return g.intent, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return payment.Intent{}, g.cancelErr
	}
	g.cancels = append(g.cancels, id)
	return payment.Intent{ID: id, Status: "canceled"}, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, _ int64) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return payment.Refund{}, g.refundErr
	}
	g.refunds = append(g.refunds, id)
	return payment.Refund{ID: "re_" + id, Status: "succeeded"}, nil
}

func (g *fakeGateway) ParseWebhook([]byte, string) (payment.WebhookEvent, error) {
	return g.event, nil
}

type recordingMailer struct {
	mu       sync.Mutex
	subjects []string
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, msg.Subject)
	return nil
}

func (m *recordingMailer) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subjects...)
}

type route struct {
	method  string
	path    string
	handler gin.HandlerFunc
	authed  bool
}

func newTestRouter(d *Deps, routes ...route) *gin.Engine {
	r := gin.New()
	authn := middleware.NewAuthenticator(d.Issuer, d.Denylist)
	for _, rt := range routes {
		if rt.authed {
			r.Handle(rt.method, rt.path, authn.AuthGuard(), rt.handler)
			continue
		}
		r.Handle(rt.method, rt.path, rt.handler)
	}
	return r
}

func performJSON(t *testing.T, r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func performRaw(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
