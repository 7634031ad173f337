package recommend

import (
	"math"
	"sort"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type vector map[string]float64

func cosine[K comparable](a, b map[K]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (norm(a) * norm(b))
}

func norm[K comparable](v map[K]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

type Scored struct {
	ProductID primitive.ObjectID `json:"productId"`
	Score     float64            `json:"score"`
}

// sortScored orders by score descending, then id for stable output.
func sortScored(items []Scored) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ProductID.Hex() < items[j].ProductID.Hex()
	})
}

func normalize(scores map[primitive.ObjectID]float64) {
	var peak float64
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}
	if peak <= 0 {
		return
	}
	for id, s := range scores {
		scores[id] = s / peak
	}
}

func top(scores map[primitive.ObjectID]float64, limit int) []Scored {
	out := make([]Scored, 0, len(scores))
	for id, s := range scores {
		if s > 0 {
			out = append(out, Scored{ProductID: id, Score: s})
		}
	}
	sortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
