package book

import (
	"sort"

	"bookflow/models"
)

// Ladder holds the price to volume state for one side of a runner's order
// book. At most one entry exists per price; a delta with volume zero removes
// the level entirely rather than leaving a zero entry.
type Ladder map[float64]float64

// ApplyDelta applies the entries in list order. Zero-volume entries remove
// the price if present, anything else upserts it.
func (l Ladder) ApplyDelta(deltas []models.PriceVol) {
	for _, d := range deltas {
		if d.Volume() == 0 {
			delete(l, d.Price())
			continue
		}
		l[d.Price()] = d.Volume()
	}
}

// Snapshot returns the ladder as (price, volume) pairs sorted ascending by
// price. Both the back and lay sides use the same ascending order.
func (l Ladder) Snapshot() []models.PriceVol {
	out := make([]models.PriceVol, 0, len(l))
	for price, volume := range l {
		out = append(out, models.PriceVol{price, volume})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price() < out[j].Price() })
	return out
}

// Prices returns just the ascending sorted prices present in the ladder.
func (l Ladder) Prices() []float64 {
	out := make([]float64, 0, len(l))
	for price := range l {
		out = append(out, price)
	}
	sort.Float64s(out)
	return out
}
