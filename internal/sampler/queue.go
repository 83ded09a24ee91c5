package sampler

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/allenlavoie/topic-pov/internal/model"
	"github.com/allenlavoie/topic-pov/internal/store"
)

var (
	// ErrUnassigned is returned when a sweep that needs labelled revisions
	// meets an unlabelled one.
	ErrUnassigned = store.ErrUnassigned

	// ErrAssigned is returned by uniform initialization when a revision is
	// already labelled. Null the index first.
	ErrAssigned = errors.New("revision already assigned")

	// ErrQueueOverflow means a sweep pushed more updates than there are
	// revisions.
	ErrQueueOverflow = errors.New("update queue overflow")

	// ErrCyclicPage means a page's parent links do not form chains.
	ErrCyclicPage = errors.New("parent links on page form a cycle")
)

// delta is one committed transition: four counters to decrement for the old
// parent and child links and four to increment for the new ones.
type delta struct {
	sub [4]store.StatLocation
	add [4]store.StatLocation
}

func newDelta(p *model.Patch, to store.Assignment) delta {
	var d delta
	d.sub[0], d.sub[1] = store.ReferenceLocations(p.Parent(), p.Own(), p.Disagrees)
	d.sub[2], d.sub[3] = store.ReferenceLocations(p.Own(), p.Child(), p.ChildDisagrees)
	d.add[0], d.add[1] = store.ReferenceLocations(p.Parent(), to, p.Disagrees)
	d.add[2], d.add[3] = store.ReferenceLocations(to, p.Child(), p.ChildDisagrees)
	return d
}

type applier int

const (
	applyBoth applier = iota
	applyAdd
	applySub
)

// apply adds before subtracting so a counter moved within one delta never
// dips below zero.
func (a applier) apply(sum *store.Summary, d *delta) error {
	if a != applySub {
		for _, l := range d.add {
			if _, err := sum.Add(l, 1); err != nil {
				return err
			}
		}
	}
	if a != applyAdd {
		for _, l := range d.sub {
			if _, err := sum.Add(l, -1); err != nil {
				return err
			}
		}
	}
	return nil
}

// deltaQueue is the shared log of transitions committed during one sweep.
// Entries below the cursor are immutable until reset.
type deltaQueue struct {
	mu     sync.Mutex
	items  []delta
	cursor atomic.Int64
}

func newDeltaQueue(capacity int64) *deltaQueue {
	return &deltaQueue{items: make([]delta, capacity)}
}

func (q *deltaQueue) push(d delta) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.cursor.Load()
	if n >= int64(len(q.items)) {
		return ErrQueueOverflow
	}
	q.items[n] = d
	q.cursor.Store(n + 1)
	return nil
}

func (q *deltaQueue) len() int64 { return q.cursor.Load() }

func (q *deltaQueue) at(i int64) *delta { return &q.items[i] }

func (q *deltaQueue) reset() { q.cursor.Store(0) }

// replica is a worker's view of the topic summary together with how much of
// the queue it has applied.
type replica struct {
	sum     *store.Summary
	applied int64
}

func (r *replica) catchUp(q *deltaQueue, to int64, how applier) error {
	for ; r.applied < to; r.applied++ {
		if err := how.apply(r.sum, q.at(r.applied)); err != nil {
			return err
		}
	}
	return nil
}
