// Package pipeline runs the multi-step commands against a model directory:
// initialization, inference, readout, reports, the consistency check and
// marginal likelihood estimation. Each records itself in the run ledger
// when one is given.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/allenlavoie/topic-pov/internal/compare"
	"github.com/allenlavoie/topic-pov/internal/config"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/estimate"
	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/metrics"
	"github.com/allenlavoie/topic-pov/internal/sampler"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// SnapshotPrefix starts the name of every snapshot Infer saves.
const SnapshotPrefix = "saved_assignments"

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the steps of one command, in order.
type Result struct {
	RunID string
	Steps []StepResult
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

func (r *Result) add(name string, err error, format string, args ...any) bool {
	step := StepResult{Name: name, Err: err}
	if err == nil {
		step.Summary = fmt.Sprintf(format, args...)
	}
	r.Steps = append(r.Steps, step)
	return err == nil
}

// Pipeline runs commands with one configuration. The ledger and metrics
// may be nil.
type Pipeline struct {
	cfg     *config.Config
	db      *database.DB
	metrics *metrics.Metrics
	log     *logging.Logger
}

// New creates a new pipeline.
func New(cfg *config.Config, db *database.DB, m *metrics.Metrics, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}
	return &Pipeline{cfg: cfg, db: db, metrics: m, log: log}
}

func (p *Pipeline) engine(st *store.Store) (*sampler.Engine, error) {
	cfg := sampler.Config{
		Threads: p.cfg.Sampler.Threads,
		Seed:    p.cfg.Sampler.Seed,
		Logger:  p.log,
	}
	if p.metrics != nil {
		cfg.Observer = p.metrics
	}
	return sampler.New(st, cfg)
}

// startRun records a run in the ledger. The returned function finishes it
// with the model's iteration count at the end of the run.
func (p *Pipeline) startRun(dir, command string, mode store.Mode, threads int, st *store.Store) (string, func(int64, error)) {
	if p.db == nil {
		return "", func(int64, error) {}
	}
	id, err := p.db.StartRun(dir, command, mode.String(), threads, iterationsOf(st))
	if err != nil {
		p.log.Warn("ledger unavailable", "error", err)
		return "", func(int64, error) {}
	}
	return id, func(iterations int64, runErr error) {
		if err := p.db.FinishRun(id, iterations, runErr); err != nil {
			p.log.Warn("finishing ledger run", "run", id, "error", err)
		}
	}
}

func (p *Pipeline) writableMode() (store.Mode, error) {
	mode, err := p.cfg.OpenMode()
	if err != nil {
		return 0, err
	}
	if mode == store.ReadOnly {
		return 0, fmt.Errorf("sampler.open_mode %s cannot persist changes", mode)
	}
	return mode, nil
}

// releaseStore closes st, writing staged changes back only when keep is
// set. A failed sweep leaves the files as they were opened.
func (p *Pipeline) releaseStore(st *store.Store, keep bool) error {
	if keep {
		if err := st.Close(); err != nil {
			return fmt.Errorf("closing model: %w", err)
		}
		return nil
	}
	p.log.Warn("discarding unsaved changes", "dir", st.Dir(), "mode", st.Mode().String())
	if err := st.Discard(); err != nil {
		return fmt.Errorf("discarding model: %w", err)
	}
	return nil
}

// Initialize writes fresh inference regions into dir, clears every label
// and then labels every revision uniformly at random.
func (p *Pipeline) Initialize(ctx context.Context, dir string) *Result {
	r := &Result{}
	mode, err := p.writableMode()
	if !r.add("Validate", err, "open mode %s", mode) {
		return r
	}

	hp := p.cfg.Hyperparameters()
	threads := p.cfg.Sampler.Threads
	if threads <= 0 {
		threads = 1
	}
	err = store.Create(dir, hp, threads)
	if !r.add("Create", err, "%d topics with %d POVs each", hp.Topics, hp.Povs) {
		return r
	}

	st, err := store.Open(dir, mode)
	if !r.add("Open", err, "opened %s", mode) {
		return r
	}
	eng, err := p.engine(st)
	if err != nil {
		st.Discard()
		r.add("Engine", err, "")
		return r
	}
	defer eng.Close()

	runID, finish := p.startRun(dir, "initialize", mode, eng.Threads(), st)
	r.RunID = runID

	err = eng.Null(ctx)
	if r.add("Null", err, "cleared %d labels", st.NumRevisions()) {
		start := time.Now()
		err = eng.Initialize(ctx)
		r.add("Initialize", err, "labelled %d revisions in %s", st.NumRevisions(), time.Since(start).Round(time.Millisecond))
	}
	iterations := iterationsOf(st)
	if err := p.releaseStore(st, r.Err() == nil); err != nil {
		r.add("Close", err, "")
	}
	finish(iterations, r.Err())
	return r
}

// SnapshotPath names the snapshot saved after iteration in dir.
func SnapshotPath(dir string, iteration int64, compressed bool) string {
	name := fmt.Sprintf("%s%05d", SnapshotPrefix, iteration)
	if compressed {
		name += ".zst"
	}
	return filepath.Join(dir, name)
}

// Infer runs iterations resample sweeps over the model in dir. After each
// sweep the iteration counter advances, every inference.save_every-th state
// is saved, and the likelihood is evaluated when enabled. Cancellation is
// honored between sweeps.
func (p *Pipeline) Infer(ctx context.Context, dir string, iterations int) *Result {
	r := &Result{}
	mode, err := p.writableMode()
	if !r.add("Validate", err, "open mode %s", mode) {
		return r
	}
	st, err := store.Open(dir, mode)
	if !r.add("Open", err, "opened %s at iteration %d", mode, iterationsOf(st)) {
		return r
	}
	eng, err := p.engine(st)
	if err != nil {
		st.Discard()
		r.add("Engine", err, "")
		return r
	}
	defer eng.Close()

	startIterations := st.Iterations()
	runID, finish := p.startRun(dir, "infer", mode, eng.Threads(), st)
	r.RunID = runID

	inf := p.cfg.Inference
	var (
		ll          float64
		transitions int64
		saved       int
		done        int
	)
	start := time.Now()
	for done < iterations {
		if err = ctx.Err(); err != nil {
			break
		}
		var stats sampler.SweepStats
		stats, err = eng.Iterate(ctx, sampler.ModeResample)
		if err != nil {
			break
		}
		done++
		transitions += stats.Transitions
		iter := st.IncrementIterations()

		if inf.SaveEvery > 0 && iter%int64(inf.SaveEvery) == 0 {
			path := SnapshotPath(dir, iter, inf.CompressSnapshots)
			if err = store.WriteSnapshotFile(path, eng.Snapshot()); err != nil {
				break
			}
			saved++
			if p.db != nil && runID != "" {
				if _, lerr := p.db.RecordSnapshot(runID, iter, path, inf.CompressSnapshots); lerr != nil {
					p.log.Warn("recording snapshot", "error", lerr)
				}
			}
		}

		it := database.Iteration{
			RunID:       runID,
			Iteration:   iter,
			DurationMS:  stats.Duration.Milliseconds(),
			Transitions: stats.Transitions,
		}
		if inf.ComputeLikelihood {
			if ll, err = eng.LogLikelihood(ctx); err != nil {
				break
			}
			it.LogLikelihood = &ll
			if p.metrics != nil {
				p.metrics.SetLogLikelihood(ll)
			}
		}
		if p.metrics != nil {
			p.metrics.SetIterations(iter)
		}
		if p.db != nil && runID != "" {
			if lerr := p.db.RecordIteration(it); lerr != nil {
				p.log.Warn("recording iteration", "error", lerr)
			}
		}
		kv := []any{"iteration", iter, "transitions", stats.Transitions, "duration", stats.Duration}
		if inf.ComputeLikelihood {
			kv = append(kv, "log_likelihood", ll)
		}
		p.log.Info("sweep", kv...)
	}

	summary := fmt.Sprintf("%d sweeps in %s, %d transitions, %d snapshots, now at iteration %d",
		done, time.Since(start).Round(time.Millisecond), transitions, saved, st.Iterations())
	if inf.ComputeLikelihood && done > 0 {
		summary += fmt.Sprintf(", log likelihood %.4f", ll)
	}
	r.add("Infer", err, "%s", summary)

	// A poisoned engine may have stopped mid-sweep. Cancellation and
	// snapshot errors happen between sweeps and leave a consistent state.
	keep := eng.Err() == nil
	finalIterations := startIterations
	if keep {
		finalIterations = st.Iterations()
	}
	if err := p.releaseStore(st, keep); err != nil {
		r.add("Close", err, "")
	}
	finish(finalIterations, r.Err())
	return r
}

func iterationsOf(st *store.Store) int64 {
	if st == nil || !st.HasInference() {
		return 0
	}
	return st.Iterations()
}

// Readout opens dir read-only, optionally runs maximize sweeps, and writes
// "revision topic pov" for every labelled revision to w. Nothing is
// written back to the model.
func (p *Pipeline) Readout(ctx context.Context, dir string, maximize int, w io.Writer) *Result {
	r := &Result{}
	st, err := store.Open(dir, store.ReadOnly)
	if !r.add("Open", err, "opened read-only at iteration %d", iterationsOf(st)) {
		return r
	}
	defer st.Close()

	if maximize > 0 {
		eng, err := p.engine(st)
		if err != nil {
			r.add("Maximize", err, "")
			return r
		}
		defer eng.Close()
		for i := 0; i < maximize && err == nil; i++ {
			err = eng.Maximize(ctx)
		}
		if !r.add("Maximize", err, "%d sweeps", maximize) {
			return r
		}
	}

	bw := bufio.NewWriter(w)
	var n int64
	for id := int64(0); id < st.NumRevisions(); id++ {
		a := st.Assignment(id)
		if !a.Assigned() {
			continue
		}
		fmt.Fprintf(bw, "%d %d %d\n", id, a.Topic, a.Pov)
		n++
	}
	err = bw.Flush()
	r.add("Readout", err, "wrote %d labels", n)
	return r
}

// ErrNotCleared is returned by Check when statistics survive a full zero.
var ErrNotCleared = errors.New("statistics did not return to zero")

// Check opens dir read-only, resamples once, zeroes every revision and
// verifies that every statistic returns to its empty value.
func (p *Pipeline) Check(ctx context.Context, dir string) (*Result, []string) {
	r := &Result{}
	st, err := store.Open(dir, store.ReadOnly)
	if !r.add("Open", err, "opened read-only") {
		return r, nil
	}
	defer st.Close()
	eng, err := p.engine(st)
	if err != nil {
		r.add("Engine", err, "")
		return r, nil
	}
	defer eng.Close()

	problems, err := eng.RoundTrip(ctx)
	if err == nil && len(problems) > 0 {
		err = fmt.Errorf("%w: %d problems", ErrNotCleared, len(problems))
	}
	r.add("Check", err, "all statistics cleared after resample and zero")
	return r, problems
}

// Estimate runs the marginal-likelihood trials against dir opened
// read-only, recording every trial in the ledger.
func (p *Pipeline) Estimate(ctx context.Context, dir string) (*Result, estimate.Result) {
	r := &Result{}
	st, err := store.Open(dir, store.ReadOnly)
	if !r.add("Open", err, "opened read-only at iteration %d", iterationsOf(st)) {
		return r, estimate.Result{}
	}
	defer st.Close()
	eng, err := p.engine(st)
	if err != nil {
		r.add("Engine", err, "")
		return r, estimate.Result{}
	}
	defer eng.Close()

	runID, finish := p.startRun(dir, "estimate", store.ReadOnly, eng.Threads(), st)
	r.RunID = runID

	ecfg := p.cfg.Estimate
	res, err := estimate.Run(ctx, eng, estimate.Options{
		Trials:             ecfg.Trials,
		IterationsPerTrial: ecfg.IterationsPerTrial,
		MaximizeIterations: ecfg.MaximizeIterations,
		Seed:               p.cfg.Sampler.Seed,
		Logger:             p.log,
		OnTrial: func(trial int, value float64) error {
			if p.db == nil || runID == "" {
				return nil
			}
			return p.db.RecordEstimate(runID, trial, value)
		},
	})
	r.add("Estimate", err, "%d trials, mean log marginal likelihood %.4f (max log likelihood %.4f)",
		len(res.Trials), res.Mean(), res.MaxLogLikelihood)
	finish(iterationsOf(st), r.Err())
	return r, res
}

// SetAssignments writes fresh inference regions into dir and loads labels
// from "revision topic pov" lines in r in place of a random start.
func (p *Pipeline) SetAssignments(ctx context.Context, dir string, r io.Reader) *Result {
	res := &Result{}
	mode, err := p.writableMode()
	if !res.add("Validate", err, "open mode %s", mode) {
		return res
	}
	threads := max(p.cfg.Sampler.Threads, 1)
	err = store.Create(dir, p.cfg.Hyperparameters(), threads)
	if !res.add("Create", err, "%d topics with %d POVs each", p.cfg.Model.Topics, p.cfg.Model.PovsPerTopic) {
		return res
	}
	st, err := store.Open(dir, mode)
	if !res.add("Open", err, "opened %s", mode) {
		return res
	}
	runID, finish := p.startRun(dir, "set-assignments", mode, threads, st)
	res.RunID = runID

	var n int
	if err = ctx.Err(); err == nil {
		n, err = st.SetAssignments(r)
	}
	if res.add("Load", err, "%d revisions labelled", n) {
		p.log.Info("loaded assignments", "dir", dir, "count", n)
	}
	iterations := iterationsOf(st)
	if err := p.releaseStore(st, res.Err() == nil); err != nil {
		res.add("Close", err, "")
	}
	finish(iterations, res.Err())
	return res
}

// Report opens dir read-only, restores each snapshot in turn and writes
// the averaged user, page and pair statistics into outDir.
func (p *Pipeline) Report(ctx context.Context, dir string, pairs []compare.Pair, snapshots []string, outDir string) *Result {
	r := &Result{}
	st, err := store.Open(dir, store.ReadOnly)
	if !r.add("Open", err, "opened read-only at iteration %d", iterationsOf(st)) {
		return r
	}
	defer st.Close()
	eng, err := p.engine(st)
	if err != nil {
		r.add("Engine", err, "")
		return r
	}
	defer eng.Close()

	runID, finish := p.startRun(dir, "report", store.ReadOnly, eng.Threads(), st)
	r.RunID = runID
	acc, err := compare.Report(ctx, eng, pairs, snapshots, outDir, p.log)
	var samples int
	if acc != nil {
		samples = acc.Samples
	}
	r.add("Report", err, "averaged %d samples into %s", samples, outDir)
	finish(iterationsOf(st), r.Err())
	return r
}
