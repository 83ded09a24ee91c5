// Package model scores candidate (topic, pov) labels for a revision and
// computes the marginal log-likelihood of a labelled corpus.
package model

import "github.com/allenlavoie/topic-pov/internal/store"

// Source is the read side of a model the evaluator needs.
type Source interface {
	Hyperparameters() store.Hyperparameters
	NumPages() int64
	NumUsers() int64
	ActiveUsers() int64
	Revision(id int64) store.Revision
	Assignment(id int64) store.Assignment
	UserTopic(user int64, topic, pov int32) float64
	UserRevisions(user int64) store.IDList
}

// Patch records a revision's own contribution to the statistics so the
// evaluator can exclude it while scoring alternatives for that revision.
type Patch struct {
	User      int32
	Page      int32
	Topic     int32
	Pov       int32
	Disagrees bool

	ParentTopic int32
	ParentPov   int32

	ChildTopic     int32
	ChildPov       int32
	ChildDisagrees bool
}

// Own returns the patched revision's assignment.
func (p *Patch) Own() store.Assignment {
	return store.Assignment{Topic: p.Topic, Pov: p.Pov}
}

// Parent returns the assignment of the patched revision's parent.
func (p *Patch) Parent() store.Assignment {
	return store.Assignment{Topic: p.ParentTopic, Pov: p.ParentPov}
}

// Child returns the assignment of the patched revision's child.
func (p *Patch) Child() store.Assignment {
	return store.Assignment{Topic: p.ChildTopic, Pov: p.ChildPov}
}

// DropChild makes the patch ignore the child link.
func (p *Patch) DropChild() {
	p.ChildTopic, p.ChildPov = -1, -1
}

// FillPatch snapshots revision id and its neighbours' current labels.
func FillPatch(src Source, id int64) Patch {
	rev := src.Revision(id)
	own := src.Assignment(id)
	p := Patch{
		User:        rev.User,
		Page:        rev.Page,
		Topic:       own.Topic,
		Pov:         own.Pov,
		Disagrees:   rev.Disagrees,
		ParentTopic: -1,
		ParentPov:   -1,
		ChildTopic:  -1,
		ChildPov:    -1,
	}
	if rev.Parent >= 0 {
		a := src.Assignment(rev.Parent)
		p.ParentTopic, p.ParentPov = a.Topic, a.Pov
	}
	if rev.Child >= 0 {
		a := src.Assignment(rev.Child)
		p.ChildTopic, p.ChildPov = a.Topic, a.Pov
		p.ChildDisagrees = src.Revision(rev.Child).Disagrees
	}
	return p
}
