package recommend

import (
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

const (
	collaborativeWeight = 0.6
	contentWeight       = 0.4
	agreementBoost      = 1.2
	backfillScore       = 0.5

	MethodCollaborative = "collaborative"
	MethodContent       = "content"
	MethodPopular       = "popular"
)

type Recommendation struct {
	ProductID primitive.ObjectID `json:"productId"`
	Score     float64            `json:"score"`
	Reason    string             `json:"reason"`
	Methods   []string           `json:"methods"`
}

type Request struct {
	UserID           primitive.ObjectID
	Interactions     []models.Interaction
	Products         []models.Product
	Limit            int
	ExcludePurchased bool
	Now              time.Time
}

// Hybrid blends collaborative and content based scores, filters and backfills
// with popular products until Limit is reached.
func Hybrid(req Request) []Recommendation {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	catalog := NewCatalog(req.Products)
	matrix := BuildMatrix(req.Interactions, now)
	seen := matrix[req.UserID]

	purchased := map[primitive.ObjectID]bool{}
	for _, in := range req.Interactions {
		if in.UserID == req.UserID && in.Type == models.BehaviorPurchase {
			purchased[in.ProductID] = true
		}
	}

	cf := Collaborative(matrix, req.UserID)
	content := catalog.ContentScores(seen)

	combined := map[primitive.ObjectID]*Recommendation{}
	add := func(id primitive.ObjectID, score float64, method string) {
		r, ok := combined[id]
		if !ok {
			r = &Recommendation{ProductID: id}
			combined[id] = r
		}
		r.Score += score
		r.Methods = append(r.Methods, method)
	}
	for id, s := range cf {
		add(id, s*collaborativeWeight, MethodCollaborative)
	}
	for id, s := range content {
		add(id, s*contentWeight, MethodContent)
	}

	out := make([]Recommendation, 0, limit)
	picked := map[primitive.ObjectID]bool{}
	for _, r := range combined {
		if !catalog.Has(r.ProductID) || (req.ExcludePurchased && purchased[r.ProductID]) {
			continue
		}
		if len(r.Methods) > 1 {
			r.Score *= agreementBoost
		}
		r.Score = math.Min(r.Score, 1)
		r.Reason = reasonFor(r.Methods)
		out = append(out, *r)
	}
	sortRecommendations(out)
	if len(out) > limit {
		out = out[:limit]
	}
	for _, r := range out {
		picked[r.ProductID] = true
	}

	if len(out) < limit {
		for _, p := range Popular(req.Products, 0) {
			if len(out) >= limit {
				break
			}
			if picked[p.ProductID] || (req.ExcludePurchased && purchased[p.ProductID]) {
				continue
			}
			picked[p.ProductID] = true
			out = append(out, Recommendation{
				ProductID: p.ProductID,
				Score:     backfillScore,
				Reason:    "Popular product",
				Methods:   []string{MethodPopular},
			})
		}
	}
	return out
}

func reasonFor(methods []string) string {
	if len(methods) > 1 {
		return "Recommended for you"
	}
	if len(methods) == 1 && methods[0] == MethodCollaborative {
		return "Customers with similar taste liked this"
	}
	return "Similar to items you viewed"
}

func sortRecommendations(items []Recommendation) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ProductID.Hex() < items[j].ProductID.Hex()
	})
}
