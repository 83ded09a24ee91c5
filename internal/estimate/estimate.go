// Package estimate estimates the marginal likelihood of the observed
// revisions with topic and POV labels integrated out, following Murray and
// Salakhutdinov (2009), "Evaluating probabilities under high-dimensional
// latent variable models".
package estimate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/sampler"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// Options configures an estimation run.
type Options struct {
	Trials             int
	IterationsPerTrial int
	MaximizeIterations int
	// Seed picks each trial's starting point; 0 is time-based.
	Seed   uint64
	Logger *logging.Logger
	// OnTrial, when set, is called with every trial's estimate as soon as
	// it is known.
	OnTrial func(trial int, value float64) error
}

// Result holds the maximized log-likelihood and one estimate per trial.
type Result struct {
	MaxLogLikelihood float64
	Trials           []float64
}

// Mean is the average of the trial estimates.
func (r Result) Mean() float64 {
	if len(r.Trials) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range r.Trials {
		s += v
	}
	return s / float64(len(r.Trials))
}

// SumLogs returns log(exp(a) + exp(b)) without leaving log space.
func SumLogs(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

// Run maximizes to a high-probability state z*, then for every trial draws
// a start s in [1, S], samples forward to S and backward to 1 from it, and
// sums the probability of transitioning into z* along the way. The engine's
// store is left in an arbitrary labelled state.
func Run(ctx context.Context, eng *sampler.Engine, opts Options) (Result, error) {
	if opts.Trials < 1 || opts.IterationsPerTrial < 1 {
		return Result{}, fmt.Errorf("estimate needs at least one trial and one iteration per trial")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, 0x5eed))

	for i := 0; i < opts.MaximizeIterations; i++ {
		if err := eng.Maximize(ctx); err != nil {
			return Result{}, err
		}
	}
	var res Result
	var err error
	if res.MaxLogLikelihood, err = eng.LogLikelihood(ctx); err != nil {
		return Result{}, err
	}
	best, err := store.ParseAssignments(eng.Snapshot())
	if err != nil {
		return Result{}, err
	}
	log.Info("maximized reference state", "log_likelihood", res.MaxLogLikelihood)

	total := opts.IterationsPerTrial
	for trial := 0; trial < opts.Trials; trial++ {
		s := 1 + rng.IntN(total)
		if err := eng.Resample(ctx); err != nil {
			return Result{}, err
		}
		start, err := store.ParseAssignments(eng.Snapshot())
		if err != nil {
			return Result{}, err
		}
		sum, err := eng.TransitionProbability(ctx, best)
		if err != nil {
			return Result{}, err
		}
		step := func(sweep func(context.Context) error) error {
			if err := sweep(ctx); err != nil {
				return err
			}
			lp, err := eng.TransitionProbability(ctx, best)
			if err != nil {
				return err
			}
			sum = SumLogs(sum, lp)
			return nil
		}
		for it := s + 1; it <= total; it++ {
			if err := step(eng.Resample); err != nil {
				return Result{}, err
			}
		}
		if err := eng.Restore(ctx, start); err != nil {
			return Result{}, err
		}
		for it := s - 1; it >= 1; it-- {
			if err := step(eng.Reverse); err != nil {
				return Result{}, err
			}
		}

		value := res.MaxLogLikelihood - (sum - math.Log(float64(total)))
		res.Trials = append(res.Trials, value)
		log.Info("estimate trial", "trial", trial, "start", s, "log_marginal", value)
		if opts.OnTrial != nil {
			if err := opts.OnTrial(trial, value); err != nil {
				return Result{}, err
			}
		}
		if trial < opts.Trials-1 {
			if err := eng.Restore(ctx, best); err != nil {
				return Result{}, err
			}
		}
	}
	return res, nil
}
