package recommend

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

const (
	recencyDecay  = 0.01
	MaxHistoryAge = 365 * 24 * time.Hour
)

var behaviorWeights = map[string]float64{
	models.BehaviorView:      1,
	models.BehaviorClick:     1,
	models.BehaviorLike:      1.5,
	models.BehaviorWishlist:  1.5,
	models.BehaviorShare:     1.5,
	models.BehaviorAddToCart: 2,
	models.BehaviorReview:    3,
	models.BehaviorPurchase:  5,
}

func BehaviorWeight(kind string) float64 {
	return behaviorWeights[kind]
}

// RecencyWeight decays exponentially with the age of the interaction in days.
func RecencyWeight(at, now time.Time) float64 {
	days := math.Floor(now.Sub(at).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return math.Exp(-recencyDecay * days)
}

// Matrix holds user -> product -> accumulated weighted score.
type Matrix map[primitive.ObjectID]map[primitive.ObjectID]float64

// BuildMatrix sums weight*recency per user and product. Interactions older
// than MaxHistoryAge or of unknown type are ignored.
func BuildMatrix(interactions []models.Interaction, now time.Time) Matrix {
	m := Matrix{}
	cutoff := now.Add(-MaxHistoryAge)
	for _, in := range interactions {
		w := BehaviorWeight(in.Type)
		if w == 0 || in.CreatedAt.Before(cutoff) {
			continue
		}
		row, ok := m[in.UserID]
		if !ok {
			row = map[primitive.ObjectID]float64{}
			m[in.UserID] = row
		}
		row[in.ProductID] += w * RecencyWeight(in.CreatedAt, now)
	}
	return m
}

// columns transposes the matrix into product -> user -> score.
func (m Matrix) columns() map[primitive.ObjectID]map[primitive.ObjectID]float64 {
	cols := map[primitive.ObjectID]map[primitive.ObjectID]float64{}
	for user, row := range m {
		for product, score := range row {
			col, ok := cols[product]
			if !ok {
				col = map[primitive.ObjectID]float64{}
				cols[product] = col
			}
			col[user] = score
		}
	}
	return cols
}
