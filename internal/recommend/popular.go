package recommend

import (
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

// PopularityScore favors well rated products with many reviews.
func PopularityScore(r models.Rating) float64 {
	return r.Average*0.7 + math.Log1p(float64(r.Count))*0.3
}

// Popular ranks products by PopularityScore, then by units sold.
func Popular(products []models.Product, limit int) []Scored {
	type entry struct {
		Scored
		sold int
	}
	entries := make([]entry, 0, len(products))
	for _, p := range products {
		entries = append(entries, entry{Scored{ProductID: p.ID, Score: PopularityScore(p.Rating)}, p.SoldCount})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.sold != b.sold {
			return a.sold > b.sold
		}
		return a.ProductID.Hex() < b.ProductID.Hex()
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Scored, len(entries))
	for i, e := range entries {
		out[i] = e.Scored
	}
	return out
}

// TrendingWindow maps a period name to its look-back window.
func TrendingWindow(period string) (time.Duration, bool) {
	switch period {
	case "", "week":
		return 7 * 24 * time.Hour, true
	case "day":
		return 24 * time.Hour, true
	case "month":
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// Trending sums behavior weights per product for interactions after since.
func Trending(interactions []models.Interaction, since time.Time, limit int) []Scored {
	scores := map[primitive.ObjectID]float64{}
	for _, in := range interactions {
		if in.CreatedAt.Before(since) {
			continue
		}
		scores[in.ProductID] += BehaviorWeight(in.Type)
	}
	return top(scores, limit)
}
