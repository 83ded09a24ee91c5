package store

import (
	"errors"
	"fmt"
)

// Revision is one immutable edit record.
type Revision struct {
	Page      int32
	Timestamp int64
	User      int32
	Parent    int64 // -1 when the revision has no parent
	Child     int64 // -1 when no revision records this one as parent
	Disagrees bool
}

// Exists reports whether the id was present in the ingested stream.
func (r Revision) Exists() bool { return r.Page >= 0 }

func decodeRevision(b []byte) Revision {
	return Revision{
		Page:      getI32(b, revPageOff),
		Timestamp: getI64(b, revTimestampOff),
		User:      getI32(b, revUserOff),
		Parent:    getI64(b, revParentOff),
		Child:     getI64(b, revChildOff),
		Disagrees: getI32(b, revDisagreesOff) != 0,
	}
}

func encodeRevision(b []byte, r Revision) {
	putI32(b, revPageOff, r.Page)
	putI64(b, revTimestampOff, r.Timestamp)
	putI32(b, revUserOff, r.User)
	putI64(b, revParentOff, r.Parent)
	putI64(b, revChildOff, r.Child)
	var d int32
	if r.Disagrees {
		d = 1
	}
	putI32(b, revDisagreesOff, d)
}

// Assignment is a revision's (topic, pov) label. Both are -1 when the
// revision is unassigned.
type Assignment struct {
	Topic int32
	Pov   int32
}

// Unassigned is the sentinel assignment.
var Unassigned = Assignment{Topic: -1, Pov: -1}

// Assigned reports whether both labels are set.
func (a Assignment) Assigned() bool { return a.Topic >= 0 && a.Pov >= 0 }

// Hyperparameters are fixed for the lifetime of a model.
type Hyperparameters struct {
	Topics     int32
	Povs       int32
	PsiAlpha   float64 // antagonistic pov prior, revert
	PsiBeta    float64
	GammaAlpha float64 // reference type prior, revert
	GammaBeta  float64
	Beta       float64 // page prior
	Alpha      float64 // topic/pov prior
}

// TopicPovs is the length of a user distribution vector.
func (h Hyperparameters) TopicPovs() int { return int(h.Topics) * int(h.Povs) }

// Validate rejects cardinalities and priors the model cannot use.
func (h Hyperparameters) Validate() error {
	var errs []error
	if h.Topics < 1 {
		errs = append(errs, fmt.Errorf("topics must be positive, got %d", h.Topics))
	}
	if h.Povs < 2 {
		errs = append(errs, fmt.Errorf("povs per topic must be at least 2, got %d", h.Povs))
	}
	priors := []struct {
		name string
		v    float64
	}{
		{"psi_alpha", h.PsiAlpha}, {"psi_beta", h.PsiBeta},
		{"gamma_alpha", h.GammaAlpha}, {"gamma_beta", h.GammaBeta},
		{"beta", h.Beta}, {"alpha", h.Alpha},
	}
	for _, p := range priors {
		if !(p.v > 0) {
			errs = append(errs, fmt.Errorf("%s must be positive, got %g", p.name, p.v))
		}
	}
	return errors.Join(errs...)
}

// IDList is a read-only view of a page's or user's revision ids.
type IDList struct {
	b []byte
}

func (l IDList) Len() int { return len(l.b) / 8 }

func (l IDList) At(i int) int64 { return getI64(l.b, 8*i) }

// Slice copies the ids out.
func (l IDList) Slice() []int64 {
	out := make([]int64, l.Len())
	for i := range out {
		out[i] = l.At(i)
	}
	return out
}
