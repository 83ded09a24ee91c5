package compare

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/sampler"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// Output file names written by Accumulator.Write.
const (
	UsersFile       = "users_stats.txt"
	PagesFile       = "pages_stats.txt"
	ComparisonsFile = "user_comparisons.txt"
)

// CurrentState stands for the store's own assignments in a snapshot list.
const CurrentState = "_"

// Stats are the per-user or per-page sums accumulated over samples.
type Stats struct {
	PovRevertRevertFraction           float64
	PovRevertEditFraction             float64
	PovRevertedEditFraction           float64
	Reverts                           float64
	Edits                             float64
	EditFractionOnMaxPov              float64
	MaxPovAntagonism                  float64
	MaxPovAntagonismEditFraction      float64
	MaxTopicAntagonism                float64
	MaxTopicAntagonismPovEditFraction float64
	MaxTopicRevertGeneral             float64
	MaxTopicRevertTopic               float64
	EditsOnMaxPov                     float64
	Entropy                           float64
}

func (s *Stats) values() []float64 {
	return []float64{
		s.PovRevertRevertFraction,
		s.PovRevertEditFraction,
		s.PovRevertedEditFraction,
		s.Reverts,
		s.Edits,
		s.EditFractionOnMaxPov,
		s.MaxPovAntagonism,
		s.MaxPovAntagonismEditFraction,
		s.MaxTopicAntagonism,
		s.MaxTopicAntagonismPovEditFraction,
		s.MaxTopicRevertGeneral,
		s.MaxTopicRevertTopic,
		s.EditsOnMaxPov,
		s.Entropy,
	}
}

// Pair is one user pair and its summed antagonism.
type Pair struct {
	First, Second int64
	Antagonism    float64
}

// ReadPairs parses "first second" user pairs, one per line.
func ReadPairs(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("pairs line %d: want two user ids", line)
		}
		a, err := strconv.ParseInt(f[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pairs line %d: %w", line, err)
		}
		b, err := strconv.ParseInt(f[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("pairs line %d: %w", line, err)
		}
		pairs = append(pairs, Pair{First: a, Second: b})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading pairs: %w", err)
	}
	return pairs, nil
}

// Accumulator sums per-user, per-page and per-pair statistics over the
// states it is shown.
type Accumulator struct {
	st      *store.Store
	threads int

	Users   []Stats
	Pages   []Stats
	Pairs   []Pair
	Samples int
}

// NewAccumulator prepares sums for every user and page of st.
func NewAccumulator(st *store.Store, pairs []Pair, threads int) *Accumulator {
	if threads < 1 {
		threads = 1
	}
	return &Accumulator{
		st:      st,
		threads: threads,
		Users:   make([]Stats, st.NumUsers()),
		Pages:   make([]Stats, st.NumPages()),
		Pairs:   pairs,
	}
}

// Add accumulates the store's current state as one more sample.
func (a *Accumulator) Add(ctx context.Context) error {
	for _, p := range a.Pairs {
		if p.First < 0 || p.First >= a.st.NumUsers() || p.Second < 0 || p.Second >= a.st.NumUsers() {
			return fmt.Errorf("user pair (%d, %d) out of range", p.First, p.Second)
		}
	}
	controversy := AllPovControversy(a.st)
	g, ctx := errgroup.WithContext(ctx)
	for shard := 0; shard < a.threads; shard++ {
		g.Go(func() error {
			counts := make([]int64, a.st.Hyperparameters().TopicPovs())
			for u := int64(shard); u < int64(len(a.Users)); u += int64(a.threads) {
				a.update(&a.Users[u], a.st.UserRevisions(u).Slice(), controversy, counts)
			}
			for p := int64(shard); p < int64(len(a.Pages)); p += int64(a.threads) {
				a.update(&a.Pages[p], a.st.PageRevisions(p).Slice(), controversy, counts)
			}
			for i := shard; i < len(a.Pairs); i += a.threads {
				a.Pairs[i].Antagonism += UserAntagonism(a.st, a.Pairs[i].First, a.Pairs[i].Second)
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	a.Samples++
	return nil
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func (a *Accumulator) update(s *Stats, ids []int64, controversy []float64, counts []int64) {
	if len(ids) == 0 {
		return
	}
	povs := int(a.st.Hyperparameters().Povs)
	n := float64(len(ids))

	m := EditsOnMaxPov(a.st, ids, counts)
	onMax := float64(m.OnMax) / n
	s.Entropy += m.Entropy
	s.EditFractionOnMaxPov += onMax
	s.EditsOnMaxPov += float64(m.OnMax)

	maxPov := controversy[int(m.Topic)*povs+int(m.Pov)]
	s.MaxPovAntagonism += maxPov
	s.MaxPovAntagonismEditFraction += maxPov * onMax

	var maxTopic float64
	for p := 0; p < povs; p++ {
		maxTopic += controversy[int(m.Topic)*povs+p]
	}
	maxTopic /= float64(povs)
	s.MaxTopicAntagonism += maxTopic
	s.MaxTopicAntagonismPovEditFraction += maxTopic * onMax

	ts := a.st.Summary().Topic(m.Topic)
	s.MaxTopicRevertGeneral += ratio(ts.RevertGeneral, ts.RevertGeneral+ts.NoRevertGeneral)
	s.MaxTopicRevertTopic += ratio(ts.RevertTopic, ts.RevertTopic+ts.NoRevertTopic)

	r := CountPovReverts(a.st, ids)
	s.PovRevertRevertFraction += ratio(r.PovReverts, r.Reverts)
	s.PovRevertEditFraction += float64(r.PovReverts) / n
	s.PovRevertedEditFraction += float64(r.PovReverted) / n
	s.Reverts += float64(r.Reverts)
	s.Edits += n
}

// Write writes the three report files into dir, averaging over samples.
func (a *Accumulator) Write(dir string) error {
	if a.Samples == 0 {
		return fmt.Errorf("no samples accumulated")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	write := func(name string, fill func(w *bufio.Writer)) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("creating %s: %w", name, err)
		}
		w := bufio.NewWriter(f)
		fill(w)
		if err := w.Flush(); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return f.Close()
	}
	n := float64(a.Samples)
	rows := func(stats []Stats) func(w *bufio.Writer) {
		return func(w *bufio.Writer) {
			for id := range stats {
				w.WriteString(strconv.Itoa(id))
				for _, v := range stats[id].values() {
					fmt.Fprintf(w, " %f", v/n)
				}
				w.WriteByte('\n')
			}
		}
	}
	if err := write(UsersFile, rows(a.Users)); err != nil {
		return err
	}
	if err := write(PagesFile, rows(a.Pages)); err != nil {
		return err
	}
	return write(ComparisonsFile, func(w *bufio.Writer) {
		for _, p := range a.Pairs {
			fmt.Fprintf(w, "%d %d %f\n", p.First, p.Second, p.Antagonism/n)
		}
	})
}

// Report restores each snapshot in turn, accumulates its statistics and
// writes the averaged report files into outDir. A first snapshot named "_"
// stands for the current state.
func Report(ctx context.Context, eng *sampler.Engine, pairs []Pair, snapshots []string, outDir string, log *logging.Logger) (*Accumulator, error) {
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots given")
	}
	if log == nil {
		log = logging.Nop()
	}
	acc := NewAccumulator(eng.Store(), pairs, eng.Threads())
	for i, path := range snapshots {
		if i > 0 || path != CurrentState {
			ref, err := store.ReadSnapshotFile(path)
			if err != nil {
				return nil, err
			}
			if err := eng.Restore(ctx, ref); err != nil {
				return nil, fmt.Errorf("restoring %s: %w", path, err)
			}
		}
		if err := acc.Add(ctx); err != nil {
			return nil, err
		}
		log.Debug("accumulated sample", "snapshot", path, "sample", i+1)
	}
	if err := acc.Write(outDir); err != nil {
		return nil, err
	}
	log.Info("wrote report", "dir", outDir, "samples", acc.Samples, "pairs", len(pairs))
	return acc, nil
}
