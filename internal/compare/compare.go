// Package compare computes descriptive statistics of a labelled model:
// per-POV controversy, user-pair antagonism and per-user and per-page
// summaries that can be averaged over posterior samples.
package compare

import (
	"math"

	"github.com/allenlavoie/topic-pov/internal/store"
)

// AveragePovAntagonism is the observed fraction of (pov, ant) references
// that were reverts, or 0 when none were.
func AveragePovAntagonism(sum *store.Summary, topic, pov, ant int32) (float64, error) {
	ps, err := sum.PovPair(topic, pov, ant)
	if err != nil {
		return 0, err
	}
	if ps.Revert == 0 {
		return 0, nil
	}
	return float64(ps.Revert) / float64(ps.Revert+ps.NoRevert), nil
}

// PovControversy averages the antagonism between pov and every other POV
// of its topic, in both directions.
func PovControversy(st *store.Store, topic, pov int32) float64 {
	sum := st.Summary()
	povs := sum.Povs()
	var c float64
	for other := int32(0); other < povs; other++ {
		if other == pov {
			continue
		}
		a, _ := AveragePovAntagonism(sum, topic, other, pov)
		b, _ := AveragePovAntagonism(sum, topic, pov, other)
		c += a + b
	}
	return c / (2 * float64(povs-1))
}

// AllPovControversy returns PovControversy for every (topic, pov), indexed
// topic*povs + pov.
func AllPovControversy(st *store.Store) []float64 {
	hp := st.Hyperparameters()
	out := make([]float64, hp.TopicPovs())
	for t := int32(0); t < hp.Topics; t++ {
		for p := int32(0); p < hp.Povs; p++ {
			out[int(t)*int(hp.Povs)+int(p)] = PovControversy(st, t, p)
		}
	}
	return out
}

// labelCounts tallies the assigned labels of ids into counts, which is
// reset first. Unassigned ids are not counted.
func labelCounts(st *store.Store, ids []int64, povs int32, counts []int64) {
	clear(counts)
	for _, id := range ids {
		a := st.Assignment(id)
		if a.Assigned() {
			counts[int(a.Topic)*int(povs)+int(a.Pov)]++
		}
	}
}

// UserAntagonism estimates the probability that an edit by a and an edit by
// b, placed next to each other on a page, are a POV revert. Each user is
// weighted by the empirical distribution of their own labels, so users who
// never share a topic score exactly 0.
func UserAntagonism(st *store.Store, a, b int64) float64 {
	hp := st.Hyperparameters()
	ra, rb := st.UserRevisions(a).Slice(), st.UserRevisions(b).Slice()
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	ca := make([]int64, hp.TopicPovs())
	cb := make([]int64, hp.TopicPovs())
	labelCounts(st, ra, hp.Povs, ca)
	labelCounts(st, rb, hp.Povs, cb)

	sum := st.Summary()
	rate := func(ps store.PovSummary) float64 {
		return (float64(ps.Revert) + hp.PsiAlpha) /
			(float64(ps.Revert) + hp.PsiAlpha + float64(ps.NoRevert) + hp.PsiBeta)
	}
	var total float64
	for t := int32(0); t < hp.Topics; t++ {
		for p := int32(0); p < hp.Povs; p++ {
			wa := ca[int(t)*int(hp.Povs)+int(p)]
			if wa == 0 {
				continue
			}
			for q := int32(0); q < hp.Povs; q++ {
				wb := cb[int(t)*int(hp.Povs)+int(q)]
				if q == p || wb == 0 {
					continue
				}
				pq, _ := sum.PovPair(t, p, q)
				qp, _ := sum.PovPair(t, q, p)
				total += float64(wa) / float64(len(ra)) *
					float64(wb) / float64(len(rb)) *
					(0.5*rate(pq) + 0.5*rate(qp))
			}
		}
	}
	return total
}

// MaxPov summarizes how a set of revisions spreads over labels.
type MaxPov struct {
	// OnMax is the number of revisions carrying the most common label.
	OnMax   int64
	Topic   int32
	Pov     int32
	Entropy float64
}

// EditsOnMaxPov finds the most common label among ids and the entropy of
// the label distribution. counts is a scratch buffer of length topics*povs.
func EditsOnMaxPov(st *store.Store, ids []int64, counts []int64) MaxPov {
	hp := st.Hyperparameters()
	labelCounts(st, ids, hp.Povs, counts)
	var m MaxPov
	if len(ids) == 0 {
		return m
	}
	for i, c := range counts {
		f := float64(c) / float64(len(ids))
		if f > 0 {
			m.Entropy -= f * math.Log(f)
		}
		if c > m.OnMax {
			m.OnMax = c
			m.Topic = int32(i / int(hp.Povs))
			m.Pov = int32(i % int(hp.Povs))
		}
	}
	return m
}

// Reverts counts the reverts within a set of revisions.
type Reverts struct {
	// Reverts is the number of revisions that disagree with their parent.
	Reverts int64
	// PovReverts are reverts of a parent on the same topic and another POV.
	PovReverts int64
	// PovReverted are reverts whose own child POV-reverts them in turn.
	PovReverted int64
}

// CountPovReverts classifies the reverts among ids.
func CountPovReverts(st *store.Store, ids []int64) Reverts {
	var r Reverts
	antagonistic := func(a, b store.Assignment) bool {
		return a.Assigned() && b.Assigned() && a.Topic == b.Topic && a.Pov != b.Pov
	}
	for _, id := range ids {
		rev := st.Revision(id)
		own := st.Assignment(id)
		if !rev.Disagrees {
			continue
		}
		r.Reverts++
		if rev.Parent >= 0 && antagonistic(st.Assignment(rev.Parent), own) {
			r.PovReverts++
		}
		if rev.Child >= 0 && st.Revision(rev.Child).Disagrees && antagonistic(st.Assignment(rev.Child), own) {
			r.PovReverted++
		}
	}
	return r
}
