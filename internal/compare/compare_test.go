package compare

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenlavoie/topic-pov/internal/ingest"
	"github.com/allenlavoie/topic-pov/internal/sampler"
	"github.com/allenlavoie/topic-pov/internal/store"
)

var hyper = store.Hyperparameters{
	Topics: 2, Povs: 2,
	PsiAlpha: 1, PsiBeta: 1,
	GammaAlpha: 1, GammaBeta: 1,
	Beta: 1, Alpha: 1,
}

// user 1 reverts user 0 on page 0; user 2 edits page 1 alone.
const revisions = "0\t1\t0\t0\t-1\tf\n" +
	"0\t2\t1\t1\t0\tt\n" +
	"1\t3\t2\t2\t-1\tf\n"

func openLabelled(t *testing.T, labels string) *store.Store {
	t.Helper()
	return openCorpus(t, revisions, labels)
}

func openCorpus(t *testing.T, tsv, labels string) *store.Store {
	t.Helper()
	dir := t.TempDir()
	_, err := ingest.Ingest(dir, strings.NewReader(tsv), ingest.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Create(dir, hyper, 1))
	s, err := store.Open(dir, store.ReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	_, err = s.SetAssignments(strings.NewReader(labels))
	require.NoError(t, err)
	return s
}

const labels = "0 0 0\n1 0 1\n2 1 0\n"

func TestAveragePovAntagonism(t *testing.T) {
	s := openLabelled(t, labels)

	a, err := AveragePovAntagonism(s.Summary(), 0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a)
	a, err = AveragePovAntagonism(s.Summary(), 0, 0, 1)
	require.NoError(t, err)
	assert.Zero(t, a)

	_, err = AveragePovAntagonism(s.Summary(), 0, 1, 1)
	require.ErrorIs(t, err, store.ErrSamePov)
}

func TestPovControversy(t *testing.T) {
	s := openLabelled(t, labels)
	assert.Equal(t, []float64{0.5, 0.5, 0, 0}, AllPovControversy(s))
}

func TestUserAntagonism(t *testing.T) {
	s := openLabelled(t, labels)

	// (1+1)/(1+1+0+1) for the observed direction, (0+1)/(0+1+0+1) for the
	// other.
	assert.InDelta(t, 0.5*2.0/3.0+0.5*0.5, UserAntagonism(s, 0, 1), 1e-12)
	assert.Equal(t, UserAntagonism(s, 0, 1), UserAntagonism(s, 1, 0))
}

func TestUserAntagonismDisjointIsZero(t *testing.T) {
	s := openLabelled(t, labels)
	assert.Equal(t, 0.0, UserAntagonism(s, 0, 2))
	assert.Equal(t, 0.0, UserAntagonism(s, 1, 2))
}

func TestEditsOnMaxPov(t *testing.T) {
	s := openLabelled(t, labels)
	counts := make([]int64, hyper.TopicPovs())

	m := EditsOnMaxPov(s, s.PageRevisions(0).Slice(), counts)
	assert.Equal(t, int64(1), m.OnMax)
	assert.Equal(t, int32(0), m.Topic)
	assert.Equal(t, int32(0), m.Pov)
	assert.InDelta(t, math.Ln2, m.Entropy, 1e-12)

	m = EditsOnMaxPov(s, s.UserRevisions(2).Slice(), counts)
	assert.Equal(t, MaxPov{OnMax: 1, Topic: 1, Pov: 0}, m)
}

func TestCountPovReverts(t *testing.T) {
	s := openLabelled(t, labels)

	assert.Equal(t, Reverts{Reverts: 1, PovReverts: 1}, CountPovReverts(s, s.PageRevisions(0).Slice()))
	// Revision 0 is not itself a revert, so being POV-reverted by
	// revision 1 does not count.
	assert.Equal(t, Reverts{}, CountPovReverts(s, s.UserRevisions(0).Slice()))

	// Same POV on both ends is a plain revert.
	same := openLabelled(t, "0 0 0\n1 0 0\n2 1 0\n")
	assert.Equal(t, Reverts{Reverts: 1}, CountPovReverts(same, same.PageRevisions(0).Slice()))
}

func TestCountPovRevertsChain(t *testing.T) {
	// user 1 reverts user 0, who reverts user 1 back.
	chain := "0\t1\t0\t0\t-1\tf\n" +
		"0\t2\t1\t1\t0\tt\n" +
		"0\t3\t0\t2\t1\tt\n"
	s := openCorpus(t, chain, "0 0 0\n1 0 1\n2 0 0\n")

	assert.Equal(t, Reverts{Reverts: 2, PovReverts: 2, PovReverted: 1}, CountPovReverts(s, s.PageRevisions(0).Slice()))
	assert.Equal(t, Reverts{PovReverts: 1, Reverts: 1, PovReverted: 1}, CountPovReverts(s, s.UserRevisions(1).Slice()))
	assert.Equal(t, Reverts{Reverts: 1, PovReverts: 1}, CountPovReverts(s, s.UserRevisions(0).Slice()))
}

func TestReadPairs(t *testing.T) {
	pairs, err := ReadPairs(strings.NewReader("0 1\n\n2  3\n"))
	require.NoError(t, err)
	assert.Equal(t, []Pair{{First: 0, Second: 1}, {First: 2, Second: 3}}, pairs)

	_, err = ReadPairs(strings.NewReader("0 1 2\n"))
	assert.Error(t, err)
	_, err = ReadPairs(strings.NewReader("a b\n"))
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	s := openLabelled(t, labels)
	eng, err := sampler.New(s, sampler.Config{Threads: 2, Seed: 1})
	require.NoError(t, err)
	defer eng.Close()

	snap := filepath.Join(t.TempDir(), "saved_assignments00001.zst")
	require.NoError(t, store.WriteSnapshotFile(snap, s.Snapshot()))

	out := t.TempDir()
	acc, err := Report(ctx, eng, []Pair{{First: 0, Second: 1}}, []string{CurrentState, snap}, out, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.Samples)

	users, err := os.ReadFile(filepath.Join(out, UsersFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(users)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1 1.000000 1.000000 0.000000 1.000000 1.000000 1.000000 0.500000 0.500000 0.500000 0.500000 0.000000 0.000000 1.000000 0.000000", lines[1])

	pages, err := os.ReadFile(filepath.Join(out, PagesFile))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(pages)), "\n"), 2)

	cmp, err := os.ReadFile(filepath.Join(out, ComparisonsFile))
	require.NoError(t, err)
	assert.Equal(t, "0 1 0.583333\n", string(cmp))
}

func TestReportRejectsUnknownUsers(t *testing.T) {
	s := openLabelled(t, labels)
	acc := NewAccumulator(s, []Pair{{First: 0, Second: 9}}, 1)
	assert.Error(t, acc.Add(context.Background()))
	assert.Error(t, acc.Write(t.TempDir()), "nothing accumulated yet")
}
