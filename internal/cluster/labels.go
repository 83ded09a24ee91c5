// Package cluster compares (topic, POV) clusterings of revisions and groups
// users into factions.
package cluster

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/allenlavoie/topic-pov/internal/store"
)

// Labels maps revision ids to their (topic, pov) label.
type Labels map[int64]store.Assignment

// Clustering maps item ids to a cluster number.
type Clustering map[int64]int

// FromAssignments collects the labels of every assigned revision of st.
func FromAssignments(st *store.Store) Labels {
	l := make(Labels)
	for id := int64(0); id < st.NumRevisions(); id++ {
		if a := st.Assignment(id); a.Assigned() {
			l[id] = a
		}
	}
	return l
}

// ReadLabels parses readout lines of the form "revision topic pov".
func ReadLabels(r io.Reader) (Labels, error) {
	l := make(Labels)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		if len(f) != 3 {
			return nil, fmt.Errorf("labels line %d: want revision, topic and pov", line)
		}
		var v [3]int64
		for i := range f {
			n, err := strconv.ParseInt(f[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("labels line %d: %w", line, err)
			}
			v[i] = n
		}
		if v[1] < 0 || v[2] < 0 {
			return nil, fmt.Errorf("labels line %d: negative label", line)
		}
		l[v[0]] = store.Assignment{Topic: int32(v[1]), Pov: int32(v[2])}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	return l, nil
}

// Clusters groups revision ids by label, ordered by (topic, pov) with ids
// ascending inside each cluster.
func (l Labels) Clusters() [][]int64 {
	by := make(map[store.Assignment][]int64)
	for id, a := range l {
		by[a] = append(by[a], id)
	}
	keys := make([]store.Assignment, 0, len(by))
	for a := range by {
		keys = append(keys, a)
	}
	slices.SortFunc(keys, func(x, y store.Assignment) int {
		return cmp.Or(cmp.Compare(x.Topic, y.Topic), cmp.Compare(x.Pov, y.Pov))
	})
	out := make([][]int64, len(keys))
	for i, a := range keys {
		out[i] = by[a]
		slices.Sort(out[i])
	}
	return out
}

func (l Labels) check(povs int32) error {
	if povs < 1 {
		return fmt.Errorf("povs per topic must be positive, got %d", povs)
	}
	for id, a := range l {
		if a.Pov >= povs {
			return fmt.Errorf("revision %d: pov %d out of range for %d povs per topic", id, a.Pov, povs)
		}
	}
	return nil
}

// Clustering numbers each (topic, pov) label as topic*povs + pov.
func (l Labels) Clustering(povs int32) Clustering {
	c := make(Clustering, len(l))
	for id, a := range l {
		c[id] = int(a.Topic)*int(povs) + int(a.Pov)
	}
	return c
}

// TopicClustering clusters by topic alone.
func (l Labels) TopicClustering() Clustering {
	c := make(Clustering, len(l))
	for id, a := range l {
		c[id] = int(a.Topic)
	}
	return c
}

// RandomPovClustering keeps each revision's topic but draws its POV
// uniformly. It is the baseline a POV-blind labelling would reach.
func (l Labels) RandomPovClustering(povs int32, rng *rand.Rand) Clustering {
	ids := make([]int64, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	c := make(Clustering, len(l))
	for _, id := range ids {
		c[id] = int(l[id].Topic)*int(povs) + rng.IntN(int(povs))
	}
	return c
}
