package recommend

import (
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collaborative predicts scores for products the user has not interacted with
// using item based cosine similarity. Scores are normalized to [0,1].
func Collaborative(m Matrix, user primitive.ObjectID) map[primitive.ObjectID]float64 {
	seen := m[user]
	if len(seen) == 0 {
		return map[primitive.ObjectID]float64{}
	}
	cols := m.columns()

	num := map[primitive.ObjectID]float64{}
	den := map[primitive.ObjectID]float64{}
	for candidate, candidateCol := range cols {
		if _, ok := seen[candidate]; ok {
			continue
		}
		for item, rating := range seen {
			sim := cosine(cols[item], candidateCol)
			if sim <= 0 {
				continue
			}
			num[candidate] += sim * rating
			den[candidate] += math.Abs(sim)
		}
	}

	scores := make(map[primitive.ObjectID]float64, len(num))
	for id, n := range num {
		if den[id] > 0 {
			scores[id] = n / den[id]
		}
	}
	normalize(scores)
	return scores
}
