package cluster

import (
	"errors"
	"math/rand/v2"
	"slices"
)

// ErrNoOverlap is returned when two clusterings share no items.
var ErrNoOverlap = errors.New("clusterings share no items")

func comb2(n int64) float64 {
	return float64(n) * float64(n-1) / 2
}

// AdjustedRand is the adjusted Rand index between two clusterings, taken
// over the items present in both. It is 1 for identical partitions and has
// expected value 0 for independent ones.
func AdjustedRand(truth, estimate Clustering) (float64, error) {
	var items []int64
	for id := range truth {
		if _, ok := estimate[id]; ok {
			items = append(items, id)
		}
	}
	if len(items) == 0 {
		return 0, ErrNoOverlap
	}
	slices.Sort(items)

	type cell struct{ t, e int }
	table := make(map[cell]int64)
	rows := make(map[int]int64)
	cols := make(map[int]int64)
	for _, id := range items {
		t, e := truth[id], estimate[id]
		table[cell{t, e}]++
		rows[t]++
		cols[e]++
	}

	n := int64(len(items))
	// Both partitions are single clusters, or both are all singletons.
	if (len(rows) == 1 && len(cols) == 1) || (int64(len(rows)) == n && int64(len(cols)) == n) {
		return 1, nil
	}

	var index, sumRows, sumCols float64
	for _, c := range table {
		index += comb2(c)
	}
	for _, c := range rows {
		sumRows += comb2(c)
	}
	for _, c := range cols {
		sumCols += comb2(c)
	}
	expected := sumRows * sumCols / comb2(n)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		return 1, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}

// Comparison holds the three agreement scores between an estimated and a
// true labelling.
type Comparison struct {
	// Items is the number of revisions labelled in both.
	Items     int
	Full      float64
	TopicOnly float64
	// RandomPov scores the estimate's topics with POVs drawn at random.
	RandomPov float64
}

// Compare scores estimate against truth with povs POVs per topic. seed
// drives the randomized-POV baseline.
func Compare(truth, estimate Labels, povs int32, seed uint64) (Comparison, error) {
	if err := truth.check(povs); err != nil {
		return Comparison{}, err
	}
	if err := estimate.check(povs); err != nil {
		return Comparison{}, err
	}
	var c Comparison
	var err error
	tc := truth.Clustering(povs)
	if c.Full, err = AdjustedRand(tc, estimate.Clustering(povs)); err != nil {
		return Comparison{}, err
	}
	if c.TopicOnly, err = AdjustedRand(truth.TopicClustering(), estimate.TopicClustering()); err != nil {
		return Comparison{}, err
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	if c.RandomPov, err = AdjustedRand(tc, estimate.RandomPovClustering(povs, rng)); err != nil {
		return Comparison{}, err
	}
	for id := range truth {
		if _, ok := estimate[id]; ok {
			c.Items++
		}
	}
	return c, nil
}
