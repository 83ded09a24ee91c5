package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/allenlavoie/topic-pov/internal/model"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// worker owns the pages congruent to shard mod the worker count.
type worker struct {
	eng   *Engine
	shard int64
	rep   replica
	ev    *model.Evaluator
	rng   *rand.Rand
	how   applier

	scratch []float64
	topo    map[int64][]int64

	visited     int64
	transitions int64
	output      float64
}

func (w *worker) sweep(sw sweeper) error {
	st := w.eng.st
	n := int64(len(w.eng.workers))
	pages := st.NumPages()
	ord := sw.order()

	visitPage := func(page int64) error {
		ids, err := w.pageOrder(page, ord)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if w.eng.failed.Load() {
				return errStopped
			}
			w.visited++
			if err := sw.visit(w, id); err != nil {
				return fmt.Errorf("%s revision %d: %w", w.eng.mode, id, err)
			}
		}
		return nil
	}

	if !ord.descending() {
		for page := w.shard; page < pages; page += n {
			if err := visitPage(page); err != nil {
				return err
			}
		}
		return nil
	}
	start := pages - pages%n + w.shard
	if start >= pages {
		start -= n
	}
	for page := start; page >= w.shard; page -= n {
		if err := visitPage(page); err != nil {
			return err
		}
	}
	return nil
}

// pageOrder lists a page's revisions in the order ord asks for.
func (w *worker) pageOrder(page int64, ord visitOrder) ([]int64, error) {
	switch ord {
	case orderTopological, orderReverseTopological:
		ids, ok := w.topo[page]
		if !ok {
			var err error
			if ids, err = topologicalOrder(w.eng.st, page); err != nil {
				return nil, err
			}
			w.topo[page] = ids
		}
		if ord == orderTopological {
			return ids, nil
		}
		return reversed(ids), nil
	case orderBackward:
		return reversed(w.eng.st.PageRevisions(page).Slice()), nil
	}
	return w.eng.st.PageRevisions(page).Slice(), nil
}

func reversed(ids []int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

// topologicalOrder walks each parent chain of a page from its root, so
// every revision follows its parent.
func topologicalOrder(st *store.Store, page int64) ([]int64, error) {
	list := st.PageRevisions(page)
	out := make([]int64, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		id := list.At(i)
		if st.Revision(id).Parent >= 0 {
			continue
		}
		for cur := id; cur >= 0; {
			out = append(out, cur)
			next := st.Revision(cur).Child
			if next >= 0 && (st.Revision(next).Parent != cur || int64(st.Revision(next).Page) != page) {
				return nil, fmt.Errorf("%w: page %d revision %d", ErrCyclicPage, page, next)
			}
			cur = next
			if len(out) > list.Len() {
				return nil, fmt.Errorf("%w: page %d", ErrCyclicPage, page)
			}
		}
	}
	if len(out) != list.Len() {
		return nil, fmt.Errorf("%w: page %d", ErrCyclicPage, page)
	}
	return out, nil
}

// catchUp applies every delta queued before cursor to the worker's replica.
func (w *worker) catchUp(cursor int64) error {
	return w.rep.catchUp(w.eng.queue, cursor, w.how)
}

// snapshotUser copies the user's vector into scratch and returns the queue
// cursor that vector is consistent with.
func (w *worker) snapshotUser(user int32) int64 {
	lock := w.eng.userLock(user)
	lock.RLock()
	defer lock.RUnlock()
	cursor := w.eng.queue.len()
	w.scratch = w.eng.st.CopyUserTopics(int64(user), w.scratch)
	return cursor
}

// weigh turns the user vector in scratch into unnormalized label weights
// for id with the revision's own contribution patched out.
func (w *worker) weigh(id int64, patch *model.Patch) (float64, error) {
	povs := w.eng.hp.Povs
	var total float64
	for t := int32(0); t < w.eng.hp.Topics; t++ {
		for p := int32(0); p < povs; p++ {
			i := int(t)*int(povs) + int(p)
			if t == patch.Topic && p == patch.Pov {
				w.scratch[i]--
				if w.scratch[i] < 0 {
					return 0, fmt.Errorf("%w: user %d (%d,%d) = %g", store.ErrNegativeCount, patch.User, t, p, w.scratch[i])
				}
			}
			f, err := w.ev.Revision(id, t, p, true, false, patch)
			if err != nil {
				return 0, err
			}
			w.scratch[i] *= f
			total += w.scratch[i]
		}
	}
	if !(total > 0) {
		return 0, fmt.Errorf("%w: revision %d total %g", model.ErrNonPositiveProbability, id, total)
	}
	return total, nil
}

func (w *worker) label(i int) store.Assignment {
	povs := int(w.eng.hp.Povs)
	return store.Assignment{Topic: int32(i / povs), Pov: int32(i % povs)}
}

func (w *worker) resample(id int64, sw sweeper) error {
	st := w.eng.st
	rev := st.Revision(id)
	patch := model.FillPatch(st, id)
	cursor := w.snapshotUser(rev.User)
	if err := w.catchUp(cursor); err != nil {
		return err
	}
	if !patch.Own().Assigned() {
		return ErrUnassigned
	}

	total, err := w.weigh(id, &patch)
	if err != nil {
		return err
	}
	i := sw.choose(w, w.scratch, total)
	if i < 0 {
		return fmt.Errorf("%w: no label chosen", model.ErrNonPositiveProbability)
	}
	to := w.label(i)
	if to == patch.Own() {
		return nil
	}
	return w.commit(id, rev, &patch, to)
}

func (w *worker) initialize(id int64) error {
	st := w.eng.st
	rev := st.Revision(id)
	patch := model.FillPatch(st, id)
	patch.DropChild()
	if patch.Own().Assigned() {
		return ErrAssigned
	}
	if rev.Parent >= 0 && !patch.Parent().Assigned() {
		return fmt.Errorf("parent %d not yet assigned: %w", rev.Parent, ErrUnassigned)
	}
	if err := w.catchUp(w.eng.queue.len()); err != nil {
		return err
	}
	to := store.Assignment{
		Topic: int32(w.rng.IntN(int(w.eng.hp.Topics))),
		Pov:   int32(w.rng.IntN(int(w.eng.hp.Povs))),
	}
	return w.commit(id, rev, &patch, to)
}

func (w *worker) zero(id int64) error {
	st := w.eng.st
	rev := st.Revision(id)
	patch := model.FillPatch(st, id)
	patch.DropChild()
	if !patch.Own().Assigned() {
		return nil
	}
	if err := w.catchUp(w.eng.queue.len()); err != nil {
		return err
	}
	return w.commit(id, rev, &patch, store.Unassigned)
}

func (w *worker) restore(id int64, to store.Assignment) error {
	st := w.eng.st
	rev := st.Revision(id)
	patch := model.FillPatch(st, id)
	if err := w.catchUp(w.eng.queue.len()); err != nil {
		return err
	}
	if to == patch.Own() {
		return nil
	}
	return w.commit(id, rev, &patch, to)
}

func (w *worker) transition(id int64, to store.Assignment) error {
	st := w.eng.st
	patch := model.FillPatch(st, id)
	if !patch.Own().Assigned() || !to.Assigned() {
		return ErrUnassigned
	}
	// Nothing is written during this sweep, so the vector needs no lock.
	w.scratch = st.CopyUserTopics(int64(patch.User), w.scratch)
	total, err := w.weigh(id, &patch)
	if err != nil {
		return err
	}
	i := int(to.Topic)*int(w.eng.hp.Povs) + int(to.Pov)
	w.output += math.Log(w.scratch[i]) - math.Log(total)
	return nil
}

// commit writes the new label, publishes its delta and moves the user and
// page counts. Either side may be unassigned.
func (w *worker) commit(id int64, rev store.Revision, patch *model.Patch, to store.Assignment) error {
	st := w.eng.st
	from := patch.Own()
	d := newDelta(patch, to)
	st.SetAssignment(id, to)

	user := int64(rev.User)
	lock := w.eng.userLock(rev.User)
	lock.Lock()
	err := w.eng.queue.push(d)
	if err == nil && from.Assigned() {
		_, err = st.AddUserTopic(user, from.Topic, from.Pov, -1)
	}
	if err == nil && to.Assigned() {
		_, err = st.AddUserTopic(user, to.Topic, to.Pov, 1)
	}
	lock.Unlock()
	if err != nil {
		return err
	}

	sum := st.Summary()
	page := int64(rev.Page)
	if from.Assigned() {
		if _, err := sum.AddPageCount(from.Topic, page, -1); err != nil {
			return err
		}
	}
	if to.Assigned() {
		if _, err := sum.AddPageCount(to.Topic, page, 1); err != nil {
			return err
		}
	}
	w.transitions++
	return nil
}
