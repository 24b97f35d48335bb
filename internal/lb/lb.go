package lb

import "math/rand/v2"

// Picker chooses an index into a weighted list, or -1 when nothing can be
// chosen.
type Picker interface {
	Pick() int
}

// WeightedRandom draws uniformly in [0, total) and walks the cumulative
// weights. Weights are fixed at construction, so concurrent Pick calls only
// read shared state.
type WeightedRandom struct {
	weights []int
	total   int
	draw    func(n int) int
}

// NewWeightedRandom treats negative weights as 0.
func NewWeightedRandom(weights []int) *WeightedRandom {
	return newWeightedRandom(weights, rand.IntN)
}

func newWeightedRandom(weights []int, draw func(int) int) *WeightedRandom {
	w := make([]int, len(weights))
	total := 0
	for i, v := range weights {
		if v < 0 {
			v = 0
		}
		w[i] = v
		total += v
	}
	return &WeightedRandom{weights: w, total: total, draw: draw}
}

func (b *WeightedRandom) Total() int { return b.total }

func (b *WeightedRandom) Pick() int {
	if b.total <= 0 {
		return -1
	}
	n := b.draw(b.total)
	cum := 0
	for i, w := range b.weights {
		cum += w
		if n < cum {
			return i
		}
	}
	// unreachable while draw honours [0, total)
	return -1
}
