package recommend

import (
	"math"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

const (
	categoryWeight = 0.3
	brandWeight    = 0.2
	tagsWeight     = 0.4
	priceWeight    = 0.15
	ratingWeight   = 0.15

	SimilarityThreshold = 0.1
)

// Catalog holds the content vectors of a product set.
type Catalog struct {
	products map[primitive.ObjectID]models.Product
	vectors  map[primitive.ObjectID]vector
	order    []primitive.ObjectID
}

func NewCatalog(products []models.Product) *Catalog {
	c := &Catalog{
		products: make(map[primitive.ObjectID]models.Product, len(products)),
		vectors:  make(map[primitive.ObjectID]vector, len(products)),
	}
	minPrice, maxPrice := math.Inf(1), math.Inf(-1)
	for _, p := range products {
		minPrice = math.Min(minPrice, p.Price)
		maxPrice = math.Max(maxPrice, p.Price)
	}
	for _, p := range products {
		c.products[p.ID] = p
		c.vectors[p.ID] = features(p, minPrice, maxPrice)
		c.order = append(c.order, p.ID)
	}
	return c
}

func (c *Catalog) Has(id primitive.ObjectID) bool {
	_, ok := c.products[id]
	return ok
}

func (c *Catalog) Product(id primitive.ObjectID) (models.Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

func (c *Catalog) Len() int {
	return len(c.order)
}

func features(p models.Product, minPrice, maxPrice float64) vector {
	v := vector{}
	if p.CategoryID != nil {
		v["c:"+p.CategoryID.Hex()] = categoryWeight
	}
	if p.Brand != "" {
		v["b:"+p.Brand] = brandWeight
	}
	if n := len(p.Tags); n > 0 {
		w := tagsWeight / math.Sqrt(float64(n))
		for _, tag := range p.Tags {
			v["t:"+tag] = w
		}
	}
	price := 0.5
	if maxPrice > minPrice {
		price = (p.Price - minPrice) / (maxPrice - minPrice)
	}
	v["price"] = priceWeight * price
	v["rating"] = ratingWeight * (p.Rating.Average / 5)
	return v
}

// profile is the score weighted mean of the vectors of the products the user
// interacted with.
func (c *Catalog) profile(seen map[primitive.ObjectID]float64) vector {
	out := vector{}
	var total float64
	for id, weight := range seen {
		vec, ok := c.vectors[id]
		if !ok || weight <= 0 {
			continue
		}
		total += weight
		for k, x := range vec {
			out[k] += x * weight
		}
	}
	if total == 0 {
		return vector{}
	}
	for k := range out {
		out[k] /= total
	}
	return out
}

// ContentScores rates every unseen catalog product against the user profile.
// Scores are normalized to [0,1].
func (c *Catalog) ContentScores(seen map[primitive.ObjectID]float64) map[primitive.ObjectID]float64 {
	prof := c.profile(seen)
	scores := map[primitive.ObjectID]float64{}
	if len(prof) == 0 {
		return scores
	}
	for _, id := range c.order {
		if _, ok := seen[id]; ok {
			continue
		}
		if s := cosine(prof, c.vectors[id]); s > 0 {
			scores[id] = s
		}
	}
	normalize(scores)
	return scores
}

// Similar returns the products closest to target above SimilarityThreshold.
func (c *Catalog) Similar(target primitive.ObjectID, limit int) []Scored {
	base, ok := c.vectors[target]
	if !ok {
		return []Scored{}
	}
	scores := map[primitive.ObjectID]float64{}
	for _, id := range c.order {
		if id == target {
			continue
		}
		if s := cosine(base, c.vectors[id]); s >= SimilarityThreshold {
			scores[id] = s
		}
	}
	return top(scores, limit)
}
