package model

import (
	"errors"
	"fmt"

	"github.com/allenlavoie/topic-pov/internal/store"
)

// ErrNonPositiveProbability means a computed weight was zero, negative or
// NaN. The statistics it was computed from are corrupt.
var ErrNonPositiveProbability = errors.New("non-positive probability")

// Evaluator computes unnormalized label weights against one view of the
// topic summary.
type Evaluator struct {
	src   Source
	sum   *store.Summary
	hp    store.Hyperparameters
	pages float64
}

// NewEvaluator binds src, whose assignments and user vectors are read
// live, to sum, which may be a replica.
func NewEvaluator(src Source, sum *store.Summary) *Evaluator {
	return &Evaluator{
		src:   src,
		sum:   sum,
		hp:    src.Hyperparameters(),
		pages: float64(src.NumPages()),
	}
}

// Summary returns the view the evaluator reads.
func (e *Evaluator) Summary() *store.Summary { return e.sum }

// Reference returns the posterior predictive probability that child
// disagrees (or not) with parent. It is 1 when either side is unassigned.
// patch, when non-nil, removes the patched revision's own parent and child
// links from the counts.
func (e *Evaluator) Reference(parent, child store.Assignment, disagrees bool, patch *Patch) (float64, error) {
	if !parent.Assigned() || !child.Assigned() {
		return 1, nil
	}

	var (
		revert, norevert int64
		prior1, prior2   float64
		denom            float64
		correction       int64
		ownLink          bool
		childLink        bool
	)
	switch {
	case parent.Topic == child.Topic && parent.Pov != child.Pov:
		ps, err := e.sum.PovPair(child.Topic, child.Pov, parent.Pov)
		if err != nil {
			return 0, err
		}
		revert, norevert = ps.Revert, ps.NoRevert
		prior1, prior2 = e.hp.PsiAlpha, e.hp.PsiBeta
		if patch != nil {
			ownLink = patch.Topic == child.Topic && patch.Pov == child.Pov &&
				patch.ParentPov == parent.Pov && patch.ParentTopic == patch.Topic
			childLink = patch.ChildTopic == child.Topic && patch.ChildPov == child.Pov &&
				patch.Pov == parent.Pov && patch.Topic == patch.ChildTopic
		}
	case parent.Topic == child.Topic:
		ts := e.sum.Topic(child.Topic)
		revert, norevert = ts.RevertTopic, ts.NoRevertTopic
		prior1, prior2 = e.hp.GammaAlpha, e.hp.GammaBeta
		if patch != nil {
			ownLink = patch.Topic == child.Topic && patch.ParentPov == patch.Pov &&
				patch.ParentTopic == patch.Topic
			childLink = patch.ChildTopic == child.Topic && patch.Pov == patch.ChildPov &&
				patch.Topic == patch.ChildTopic
		}
	default:
		ts := e.sum.Topic(child.Topic)
		revert, norevert = ts.RevertGeneral, ts.NoRevertGeneral
		prior1, prior2 = e.hp.GammaAlpha, e.hp.GammaBeta
		if patch != nil {
			ownLink = patch.ParentTopic >= 0 && patch.Topic == child.Topic &&
				patch.ParentTopic != patch.Topic
			childLink = patch.Topic >= 0 && patch.ChildTopic == child.Topic &&
				patch.Topic != patch.ChildTopic
		}
	}

	denom = float64(revert+norevert) + prior1 + prior2
	if ownLink {
		denom--
		if disagrees == patch.Disagrees {
			correction++
		}
	}
	if childLink {
		denom--
		if disagrees == patch.ChildDisagrees {
			correction++
		}
	}

	var p float64
	if disagrees {
		p = (float64(revert-correction) + prior1) / denom
	} else {
		p = (float64(norevert-correction) + prior2) / denom
	}
	if !(p > 0) {
		return 0, fmt.Errorf("%w: reference %v -> %v disagrees=%t: %g", ErrNonPositiveProbability, parent, child, disagrees, p)
	}
	return p, nil
}

// Revision returns the unnormalized weight of labelling revision id with
// (topic, pov). The child link and the user's pseudo-count are optional
// factors; the parent link and the page factor are always included.
func (e *Evaluator) Revision(id int64, topic, pov int32, includeChild, includeUser bool, patch *Patch) (float64, error) {
	rev := e.src.Revision(id)
	cand := store.Assignment{Topic: topic, Pov: pov}
	w := 1.0

	if rev.Parent >= 0 {
		f, err := e.Reference(e.src.Assignment(rev.Parent), cand, rev.Disagrees, patch)
		if err != nil {
			return 0, err
		}
		w *= f
	}
	if includeChild && rev.Child >= 0 {
		f, err := e.Reference(cand, e.src.Assignment(rev.Child), e.src.Revision(rev.Child).Disagrees, patch)
		if err != nil {
			return 0, err
		}
		w *= f
	}

	if includeUser {
		u := e.src.UserTopic(int64(rev.User), topic, pov)
		if patch != nil && patch.User == rev.User && patch.Topic == topic && patch.Pov == pov {
			u--
		}
		w *= u
	}

	pageCount := e.sum.PageCount(topic, int64(rev.Page))
	total := e.sum.Topic(topic).Total
	if patch != nil && patch.Topic == topic {
		total--
		if patch.Page == rev.Page {
			pageCount--
		}
	}
	w *= (float64(pageCount) + e.hp.Beta) / (float64(total) + e.hp.Beta*e.pages)

	if !(w > 0) {
		return 0, fmt.Errorf("%w: revision %d as (%d,%d): %g", ErrNonPositiveProbability, id, topic, pov, w)
	}
	return w, nil
}
