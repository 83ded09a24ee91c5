package sampler

import (
	"fmt"
	"strings"

	"github.com/allenlavoie/topic-pov/internal/store"
)

// Mode is the per-revision behaviour of a sweep.
type Mode int

const (
	// ModeResample draws every revision's label from its conditional.
	ModeResample Mode = iota
	// ModeMaximize picks every revision's most probable label.
	ModeMaximize
	// ModeInitialize labels every revision uniformly at random, parents
	// before children.
	ModeInitialize
	// ModeNull clears every label without touching any statistic.
	ModeNull
	// ModeZero clears every label and subtracts its contribution.
	ModeZero
	// ModeRestore moves every revision to the label in a reference snapshot.
	ModeRestore
	// ModeTransition sums the log-probability of resampling into a reference
	// snapshot without changing anything.
	ModeTransition
	// ModeReverse is ModeResample visiting pages and revisions backwards.
	ModeReverse
)

var modeNames = map[Mode]string{
	ModeResample:   "resample",
	ModeMaximize:   "maximize",
	ModeInitialize: "initialize",
	ModeNull:       "null",
	ModeZero:       "zero",
	ModeRestore:    "restore",
	ModeTransition: "transition",
	ModeReverse:    "reverse",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name back into a Mode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown sweep mode %q", s)
}

// visitOrder decides how pages and the revisions within them are walked.
type visitOrder int

const (
	orderForward visitOrder = iota
	orderBackward
	orderTopological
	orderReverseTopological
)

func (o visitOrder) descending() bool {
	return o == orderBackward || o == orderReverseTopological
}

// sweeper is one sweep mode: what happens at each revision, how committed
// deltas are applied to replicas, and how a label is chosen from weights.
type sweeper interface {
	visit(w *worker, id int64) error
	applier() applier
	choose(w *worker, weights []float64, total float64) int
	order() visitOrder
}

type resampler struct {
	maximize bool
	backward bool
}

func (s resampler) visit(w *worker, id int64) error { return w.resample(id, s) }
func (resampler) applier() applier { return applyBoth }

func (s resampler) choose(w *worker, weights []float64, total float64) int {
	if s.maximize {
		return argmax(weights)
	}
	return draw(w, weights, total)
}

func (s resampler) order() visitOrder {
	if s.backward {
		return orderBackward
	}
	return orderForward
}

type initializer struct{}

func (initializer) visit(w *worker, id int64) error { return w.initialize(id) }
func (initializer) applier() applier { return applyAdd }
func (initializer) choose(w *worker, weights []float64, total float64) int {
	return draw(w, weights, total)
}
func (initializer) order() visitOrder { return orderTopological }

type nuller struct{}

func (nuller) visit(w *worker, id int64) error {
	w.eng.st.SetAssignment(id, store.Unassigned)
	return nil
}
func (nuller) applier() applier { return applyAdd }
func (nuller) choose(*worker, []float64, float64) int { return -1 }
func (nuller) order() visitOrder { return orderForward }

type zeroer struct{}

func (zeroer) visit(w *worker, id int64) error { return w.zero(id) }
func (zeroer) applier() applier { return applySub }
func (zeroer) choose(*worker, []float64, float64) int { return -1 }
func (zeroer) order() visitOrder { return orderReverseTopological }

type restorer struct {
	ref *store.Assignments
}

func (s restorer) visit(w *worker, id int64) error { return w.restore(id, s.ref.At(id)) }
func (restorer) applier() applier { return applyBoth }
func (restorer) choose(*worker, []float64, float64) int { return -1 }
func (restorer) order() visitOrder { return orderForward }

type transitioner struct {
	ref *store.Assignments
}

func (s transitioner) visit(w *worker, id int64) error { return w.transition(id, s.ref.At(id)) }
func (transitioner) applier() applier { return applyBoth }
func (transitioner) choose(*worker, []float64, float64) int { return -1 }
func (transitioner) order() visitOrder { return orderForward }

// draw picks index i with probability weights[i]/total.
func draw(w *worker, weights []float64, total float64) int {
	u := total * w.rng.Float64()
	var run float64
	last := -1
	for i, v := range weights {
		if v <= 0 {
			continue
		}
		run += v
		last = i
		if u < run {
			return i
		}
	}
	// Rounding can leave u just past the final partial sum.
	return last
}

func argmax(weights []float64) int {
	best, at := 0.0, -1
	for i, v := range weights {
		if v > best {
			best, at = v, i
		}
	}
	return at
}
