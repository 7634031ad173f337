package recommend

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

func oid() primitive.ObjectID { return primitive.NewObjectID() }

func interaction(user, product primitive.ObjectID, kind string, at time.Time) models.Interaction {
	return models.Interaction{UserID: user, ProductID: product, Type: kind, CreatedAt: at}
}

func TestWeights(t *testing.T) {
	assert.Equal(t, 5.0, BehaviorWeight(models.BehaviorPurchase))
	assert.Equal(t, 1.5, BehaviorWeight(models.BehaviorWishlist))
	assert.Zero(t, BehaviorWeight("teleport"))

	now := time.Now()
	assert.InDelta(t, 1, RecencyWeight(now, now), 1e-9)
	assert.InDelta(t, math.Exp(-0.1), RecencyWeight(now.Add(-10*24*time.Hour), now), 1e-9)
}

func TestBuildMatrixDropsStaleAndUnknown(t *testing.T) {
	now := time.Now()
	u, p := oid(), oid()
	m := BuildMatrix([]models.Interaction{
		interaction(u, p, models.BehaviorView, now),
		interaction(u, p, models.BehaviorPurchase, now),
		interaction(u, p, models.BehaviorPurchase, now.Add(-400*24*time.Hour)),
		interaction(u, p, "bogus", now),
	}, now)

	assert.InDelta(t, 6, m[u][p], 1e-9)
}

func TestCollaborativeUsesCoOccurrence(t *testing.T) {
	now := time.Now()
	alice, bob, carol := oid(), oid(), oid()
	p1, p2, p3 := oid(), oid(), oid()

	m := BuildMatrix([]models.Interaction{
		interaction(alice, p1, models.BehaviorPurchase, now),
		interaction(bob, p1, models.BehaviorPurchase, now),
		interaction(bob, p2, models.BehaviorAddToCart, now),
		interaction(carol, p3, models.BehaviorPurchase, now),
	}, now)

	scores := Collaborative(m, alice)
	assert.InDelta(t, 1, scores[p2], 1e-9)
	assert.NotContains(t, scores, p3)
	assert.NotContains(t, scores, p1)

	assert.Empty(t, Collaborative(m, oid()))
}

func catalogFixture() (p1, p2, p3, p4 models.Product) {
	catX, catY := oid(), oid()
	p1 = models.Product{ID: oid(), CategoryID: &catX, Tags: models.StringList{"a", "b"}, Price: 10, SoldCount: 10}
	p2 = models.Product{ID: oid(), CategoryID: &catX, Tags: models.StringList{"a"}, Price: 12}
	p3 = models.Product{ID: oid(), CategoryID: &catY, Tags: models.StringList{"z"}, Price: 30, SoldCount: 5}
	p4 = models.Product{ID: oid(), Tags: models.StringList{"b"}, Price: 20}
	return
}

func TestContentScoresFavorSharedFeatures(t *testing.T) {
	p1, p2, p3, p4 := catalogFixture()
	c := NewCatalog([]models.Product{p1, p2, p3, p4})

	scores := c.ContentScores(map[primitive.ObjectID]float64{p1.ID: 5})
	assert.InDelta(t, 1, scores[p2.ID], 1e-9)
	assert.Greater(t, scores[p2.ID], scores[p4.ID])
	assert.NotContains(t, scores, p3.ID)
	assert.NotContains(t, scores, p1.ID)
}

func TestSimilarAppliesThreshold(t *testing.T) {
	p1, p2, p3, p4 := catalogFixture()
	c := NewCatalog([]models.Product{p1, p2, p3, p4})

	similar := c.Similar(p1.ID, 10)
	require.Len(t, similar, 2)
	assert.Equal(t, p2.ID, similar[0].ProductID)
	assert.Equal(t, p4.ID, similar[1].ProductID)

	assert.Empty(t, c.Similar(oid(), 10))
	assert.Len(t, c.Similar(p1.ID, 1), 1)
}

func TestHybridBlendsFiltersAndBackfills(t *testing.T) {
	p1, p2, p3, p4 := catalogFixture()
	now := time.Now()
	user, other := oid(), oid()
	req := Request{
		UserID: user,
		Interactions: []models.Interaction{
			interaction(user, p1.ID, models.BehaviorPurchase, now),
			interaction(other, p1.ID, models.BehaviorPurchase, now),
			interaction(other, p2.ID, models.BehaviorView, now),
		},
		Products:         []models.Product{p1, p2, p3, p4},
		Limit:            10,
		ExcludePurchased: true,
		Now:              now,
	}

	recs := Hybrid(req)
	require.Len(t, recs, 3)
	assert.Equal(t, p2.ID, recs[0].ProductID)
	assert.ElementsMatch(t, []string{MethodCollaborative, MethodContent}, recs[0].Methods)
	assert.InDelta(t, 1, recs[0].Score, 1e-9)
	assert.Equal(t, p4.ID, recs[1].ProductID)
	assert.Equal(t, p3.ID, recs[2].ProductID)
	assert.Equal(t, "Popular product", recs[2].Reason)
	assert.Equal(t, backfillScore, recs[2].Score)

	req.ExcludePurchased = false
	recs = Hybrid(req)
	require.Len(t, recs, 4)
	assert.Equal(t, p1.ID, recs[2].ProductID)

	req.Limit = 1
	assert.Len(t, Hybrid(req), 1)
}

func TestHybridColdStartIsPopular(t *testing.T) {
	p1, p2, p3, p4 := catalogFixture()
	recs := Hybrid(Request{UserID: oid(), Products: []models.Product{p1, p2, p3, p4}, Limit: 2})

	require.Len(t, recs, 2)
	assert.Equal(t, p1.ID, recs[0].ProductID)
	assert.Equal(t, p3.ID, recs[1].ProductID)
}

func TestPopularOrdering(t *testing.T) {
	a := models.Product{ID: oid(), Rating: models.Rating{Average: 4.5, Count: 100}}
	b := models.Product{ID: oid(), Rating: models.Rating{Average: 5, Count: 1}}
	c := models.Product{ID: oid(), Rating: models.Rating{Average: 5, Count: 1}, SoldCount: 3}

	got := Popular([]models.Product{b, a, c}, 0)
	require.Len(t, got, 3)
	assert.Equal(t, a.ID, got[0].ProductID)
	assert.Equal(t, c.ID, got[1].ProductID)
	assert.Equal(t, b.ID, got[2].ProductID)
	assert.InDelta(t, 4.5*0.7+math.Log(101)*0.3, got[0].Score, 1e-9)
}

func TestTrending(t *testing.T) {
	now := time.Now()
	u := oid()
	hot, warm := oid(), oid()
	got := Trending([]models.Interaction{
		interaction(u, hot, models.BehaviorPurchase, now),
		interaction(u, warm, models.BehaviorView, now),
		interaction(u, warm, models.BehaviorPurchase, now.Add(-48*time.Hour)),
	}, now.Add(-24*time.Hour), 10)

	require.Len(t, got, 2)
	assert.Equal(t, hot, got[0].ProductID)
	assert.Equal(t, 5.0, got[0].Score)

	w, ok := TrendingWindow("month")
	assert.True(t, ok)
	assert.Equal(t, 30*24*time.Hour, w)
	_, ok = TrendingWindow("year")
	assert.False(t, ok)
}
