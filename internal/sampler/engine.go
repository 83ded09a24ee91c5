// Package sampler runs parallel collapsed Gibbs sweeps over a model store.
//
// Pages are sharded across workers by page id. Worker 0 reads the live
// topic summary; every other worker reads a private replica and catches up
// on transitions committed elsewhere through a shared update queue, once per
// revision it visits. Cross-worker topic statistics can therefore be stale
// within a sweep; the barrier at the end of every sweep brings all replicas
// back in line.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/model"
	"github.com/allenlavoie/topic-pov/internal/store"
)

const numUserLocks = 2000

var errStopped = errors.New("sweep stopped")

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("sampler closed")

// Config configures an Engine.
type Config struct {
	// Threads is the number of workers; 0 means GOMAXPROCS.
	Threads int
	// Seed seeds every worker's generator; 0 picks a time-based seed.
	Seed     uint64
	Logger   *logging.Logger
	Observer Observer
}

// Observer receives the statistics of every completed sweep.
type Observer interface {
	ObserveSweep(SweepStats)
}

// SweepStats describes one completed sweep.
type SweepStats struct {
	Mode        Mode
	Duration    time.Duration
	Visited     int64
	Transitions int64
	QueueLength int64
	// Output is the summed log transition probability of a transition
	// sweep and zero otherwise.
	Output float64
}

// Engine drives sweeps over one store. Calls are serialized; a fatal error
// poisons the engine and is returned by every later call.
type Engine struct {
	st  *store.Store
	hp  store.Hyperparameters
	log *logging.Logger
	obs Observer

	workers []*worker
	queue   *deltaQueue
	locks   [numUserLocks]sync.RWMutex

	mu     sync.Mutex
	mode   Mode
	failed atomic.Bool
	once   sync.Once
	err    error
}

// New binds an engine to st, which must have its inference regions loaded.
func New(st *store.Store, cfg Config) (*Engine, error) {
	if !st.HasInference() {
		return nil, store.ErrNoInference
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	e := &Engine{
		st:    st,
		hp:    st.Hyperparameters(),
		log:   log,
		obs:   cfg.Observer,
		queue: newDeltaQueue(st.NumRevisions()),
	}
	live := st.Summary()
	live.ResetScratch()
	for i := 0; i < threads; i++ {
		sum := live
		if i > 0 {
			sum = live.Clone()
		}
		e.workers = append(e.workers, &worker{
			eng:     e,
			shard:   int64(i),
			rep:     replica{sum: sum},
			ev:      model.NewEvaluator(st, sum),
			rng:     rand.New(rand.NewPCG(seed, uint64(i))),
			scratch: make([]float64, e.hp.TopicPovs()),
			topo:    make(map[int64][]int64),
		})
	}
	return e, nil
}

// Threads is the number of workers.
func (e *Engine) Threads() int { return len(e.workers) }

// Store returns the store the engine mutates.
func (e *Engine) Store() *store.Store { return e.st }

// Err returns the error that poisoned the engine, if any.
func (e *Engine) Err() error {
	if !e.failed.Load() {
		return nil
	}
	return e.err
}

func (e *Engine) poison(err error) {
	e.once.Do(func() {
		e.err = err
		e.failed.Store(true)
		e.log.Error("sampler poisoned", "error", err)
	})
}

func (e *Engine) userLock(user int32) *sync.RWMutex {
	return &e.locks[int(user)%numUserLocks]
}

// Iterate runs one sweep of a mode that needs no reference snapshot.
func (e *Engine) Iterate(ctx context.Context, mode Mode) (SweepStats, error) {
	var sw sweeper
	switch mode {
	case ModeResample:
		sw = resampler{}
	case ModeMaximize:
		sw = resampler{maximize: true}
	case ModeReverse:
		sw = resampler{backward: true}
	case ModeInitialize:
		sw = initializer{}
	case ModeNull:
		sw = nuller{}
	case ModeZero:
		sw = zeroer{}
	case ModeRestore, ModeTransition:
		return SweepStats{}, fmt.Errorf("%s needs a reference snapshot", mode)
	default:
		return SweepStats{}, fmt.Errorf("unknown sweep mode %d", int(mode))
	}
	return e.run(ctx, mode, sw)
}

func (e *Engine) Resample(ctx context.Context) error { return e.iterate(ctx, ModeResample) }
func (e *Engine) Maximize(ctx context.Context) error { return e.iterate(ctx, ModeMaximize) }
func (e *Engine) Reverse(ctx context.Context) error { return e.iterate(ctx, ModeReverse) }
func (e *Engine) Initialize(ctx context.Context) error { return e.iterate(ctx, ModeInitialize) }
func (e *Engine) Null(ctx context.Context) error { return e.iterate(ctx, ModeNull) }
func (e *Engine) Zero(ctx context.Context) error { return e.iterate(ctx, ModeZero) }

func (e *Engine) iterate(ctx context.Context, mode Mode) error {
	_, err := e.Iterate(ctx, mode)
	return err
}

// Restore moves every revision to its label in ref, updating statistics,
// and takes over ref's iteration count.
func (e *Engine) Restore(ctx context.Context, ref *store.Assignments) error {
	if err := ref.Fits(e.st); err != nil {
		return err
	}
	if _, err := e.run(ctx, ModeRestore, restorer{ref: ref}); err != nil {
		return err
	}
	e.st.SetIterations(ref.Iterations())
	return nil
}

// TransitionProbability returns the log-probability that one resample sweep
// from the current state lands every revision on its label in ref. Nothing
// is modified.
func (e *Engine) TransitionProbability(ctx context.Context, ref *store.Assignments) (float64, error) {
	if err := ref.Fits(e.st); err != nil {
		return 0, err
	}
	stats, err := e.run(ctx, ModeTransition, transitioner{ref: ref})
	return stats.Output, err
}

// Snapshot copies the current assignment region.
func (e *Engine) Snapshot() []byte { return e.st.Snapshot() }

func (e *Engine) run(ctx context.Context, mode Mode, sw sweeper) (SweepStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers == nil {
		return SweepStats{}, ErrClosed
	}
	if err := e.Err(); err != nil {
		return SweepStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return SweepStats{}, err
	}

	start := time.Now()
	e.mode = mode
	live := e.st.Summary()
	for _, w := range e.workers {
		if w.rep.sum != live {
			w.rep.sum.CopyFrom(live)
		}
		w.rep.sum.ResetScratch()
		w.rep.applied = 0
		w.how = sw.applier()
		w.visited, w.transitions, w.output = 0, 0, 0
	}

	var g errgroup.Group
	for _, w := range e.workers {
		g.Go(func() error {
			err := w.sweep(sw)
			if errors.Is(err, errStopped) {
				return nil
			}
			if err != nil {
				e.poison(err)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return SweepStats{}, e.err
	}

	stats := SweepStats{Mode: mode, QueueLength: e.queue.len()}
	if err := e.barrier(); err != nil {
		return SweepStats{}, err
	}
	for _, w := range e.workers {
		stats.Visited += w.visited
		stats.Transitions += w.transitions
		stats.Output += w.output
	}
	stats.Duration = time.Since(start)

	e.log.Debug("sweep finished",
		"mode", mode.String(),
		"duration", stats.Duration,
		"visited", stats.Visited,
		"transitions", stats.Transitions,
		"queue", stats.QueueLength,
	)
	if e.obs != nil {
		e.obs.ObserveSweep(stats)
	}
	return stats, nil
}

// barrier drains the queue into every replica and resets it.
func (e *Engine) barrier() error {
	end := e.queue.len()
	for _, w := range e.workers {
		if err := w.catchUp(end); err != nil {
			e.poison(fmt.Errorf("%s barrier: %w", e.mode, err))
			return e.err
		}
		w.rep.applied = 0
		w.rep.sum.ResetScratch()
	}
	e.queue.reset()
	return nil
}

// LogLikelihood computes the marginal log-likelihood of the current state,
// sharding the user and page terms across workers.
func (e *Engine) LogLikelihood(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workers == nil {
		return 0, ErrClosed
	}
	if err := e.Err(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	live := e.st.Summary()
	n := len(e.workers)
	parts := make([]float64, n)
	g, _ := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			parts[i] = model.UsersPagesLogLikelihood(e.st, live, i, n)
			return nil
		})
	}
	ll := model.RemainderLogLikelihood(e.st, live)
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, p := range parts {
		ll += p
	}
	return ll, nil
}

// RoundTrip resamples once, then zeroes every revision and reports every
// statistic that did not return to its empty value. It is a consistency
// check and leaves the store unassigned.
func (e *Engine) RoundTrip(ctx context.Context) ([]string, error) {
	if err := e.Resample(ctx); err != nil {
		return nil, err
	}
	if err := e.Zero(ctx); err != nil {
		return nil, err
	}
	return e.st.CheckZero(), nil
}

// Close releases the replicas. The store stays open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.workers {
		w.rep.sum = nil
		w.ev = nil
		w.topo = nil
	}
	e.workers = nil
	return nil
}
