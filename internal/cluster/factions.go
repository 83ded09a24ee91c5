package cluster

import (
	"cmp"
	"slices"

	"github.com/allenlavoie/topic-pov/internal/store"
)

// DefaultDistanceThreshold cuts the user dendrogram when no threshold is
// given. Normalized label vectors are at most sqrt(2) apart.
const DefaultDistanceThreshold = 0.5

// FactionOptions selects the users to cluster and where to cut.
type FactionOptions struct {
	Threshold float64
	// MinEdits leaves out users with fewer revisions.
	MinEdits int
	// MaxUsers keeps only the most active users; 0 keeps all of them.
	MaxUsers int
}

// Faction is a group of users with similar label distributions.
type Faction struct {
	Users []int64
	// Topic and Pov are the largest entry of the members' mean vector.
	Topic, Pov int32
	Share      float64
}

// userVector returns user's label distribution: the counts in its
// topic/pov vector, without the alpha prior, normalized to sum 1. ok is
// false when none of the user's revisions are assigned.
func userVector(st *store.Store, user int64) (vec []float64, ok bool) {
	alpha := st.Hyperparameters().Alpha
	vec = st.CopyUserTopics(user, nil)
	var total float64
	for i, v := range vec {
		v = max(v-alpha, 0)
		vec[i] = v
		total += v
	}
	if total < 0.5 {
		return vec, false
	}
	for i := range vec {
		vec[i] /= total
	}
	return vec, true
}

// Factions clusters users by their label distributions with Ward linkage
// and returns the groups, largest first.
func Factions(st *store.Store, opts FactionOptions) []Faction {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultDistanceThreshold
	}
	type candidate struct {
		user  int64
		edits int
	}
	var users []candidate
	for u := int64(0); u < st.NumUsers(); u++ {
		if n := st.UserRevisions(u).Len(); n > 0 && int(n) >= opts.MinEdits {
			users = append(users, candidate{u, int(n)})
		}
	}
	slices.SortFunc(users, func(a, b candidate) int {
		return cmp.Or(cmp.Compare(b.edits, a.edits), cmp.Compare(a.user, b.user))
	})
	if opts.MaxUsers > 0 && len(users) > opts.MaxUsers {
		users = users[:opts.MaxUsers]
	}

	var (
		ids    []int64
		points [][]float64
	)
	for _, c := range users {
		if vec, ok := userVector(st, c.user); ok {
			ids = append(ids, c.user)
			points = append(points, vec)
		}
	}
	if len(points) == 0 {
		return nil
	}

	labels := cutDendrogram(wardLinkage(points), len(points), opts.Threshold)
	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}

	povs := int(st.Hyperparameters().Povs)
	out := make([]Faction, 0, len(groups))
	for l := 0; l < len(groups); l++ {
		members := groups[l]
		mean := make([]float64, len(points[0]))
		f := Faction{Users: make([]int64, len(members))}
		for i, m := range members {
			f.Users[i] = ids[m]
			for k, v := range points[m] {
				mean[k] += v / float64(len(members))
			}
		}
		slices.Sort(f.Users)
		best := 0
		for k := range mean {
			if mean[k] > mean[best] {
				best = k
			}
		}
		f.Topic, f.Pov, f.Share = int32(best/povs), int32(best%povs), mean[best]
		out = append(out, f)
	}
	slices.SortStableFunc(out, func(a, b Faction) int {
		return cmp.Or(cmp.Compare(len(b.Users), len(a.Users)), cmp.Compare(a.Users[0], b.Users[0]))
	})
	return out
}
