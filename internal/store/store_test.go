package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHyper = Hyperparameters{
	Topics: 2, Povs: 2,
	PsiAlpha: 1, PsiBeta: 1,
	GammaAlpha: 1, GammaBeta: 1,
	Beta: 1, Alpha: 1,
}

// writeChain lays out one page holding the chain 0 <- 1 <- 2 by user 0 and
// a phantom id 3.
func writeChain(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	revs := []Revision{
		{Page: 0, Timestamp: 10, User: 0, Parent: -1, Child: 1},
		{Page: 0, Timestamp: 20, User: 0, Parent: 0, Child: 2, Disagrees: true},
		{Page: 0, Timestamp: 30, User: 0, Parent: 1, Child: -1},
		{Page: -1, User: -1, Parent: -1, Child: -1},
	}
	pages := [][]int64{{0, 1, 2}}
	users := [][]int64{{0, 1, 2}}
	require.NoError(t, WriteRevisionRegions(dir, revs, pages, users))
	return dir
}

func openChain(t *testing.T, mode Mode) *Store {
	t.Helper()
	dir := writeChain(t)
	require.NoError(t, Create(dir, testHyper, 2))
	s, err := Open(dir, mode)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenReadsRevisions(t *testing.T) {
	s := openChain(t, ReadOnly)

	assert.EqualValues(t, 4, s.NumRevisions())
	assert.EqualValues(t, 1, s.NumPages())
	assert.EqualValues(t, 1, s.NumUsers())
	assert.EqualValues(t, 1, s.ActiveUsers())

	r := s.Revision(1)
	assert.Equal(t, Revision{Page: 0, Timestamp: 20, User: 0, Parent: 0, Child: 2, Disagrees: true}, r)
	assert.False(t, s.Revision(3).Exists())
	assert.Equal(t, []int64{0, 1, 2}, s.PageRevisions(0).Slice())
	assert.Equal(t, []int64{0, 1, 2}, s.UserRevisions(0).Slice())
	assert.Equal(t, testHyper, s.Hyperparameters())
}

func TestOpenRejectsTruncatedRegion(t *testing.T) {
	dir := writeChain(t)
	require.NoError(t, Create(dir, testHyper, 1))

	path := filepath.Join(dir, TopicIndexFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-8], 0o644))

	_, err = Open(dir, ReadOnly)
	require.ErrorIs(t, err, ErrCorruptRegion)
}

func TestCreateStartsEmpty(t *testing.T) {
	s := openChain(t, ReadOnly)

	for id := int64(0); id < s.NumRevisions(); id++ {
		assert.Equal(t, Unassigned, s.Assignment(id))
	}
	assert.Empty(t, s.CheckZero())
	assert.Zero(t, s.Iterations())
	assert.Equal(t, []float64{1, 1, 1, 1}, s.CopyUserTopics(0, nil))
}

func TestChangeIndexesCountsLinks(t *testing.T) {
	s := openChain(t, ReadOnly)
	for id := int64(0); id < 3; id++ {
		s.SetAssignment(id, Assignment{Topic: 0, Pov: 0})
	}
	for id := int64(0); id < 3; id++ {
		require.NoError(t, s.ChangeIndexes(id, 1))
	}

	ts := s.Summary().Topic(0)
	assert.Equal(t, TopicSummary{Total: 3, RevertTopic: 1, NoRevertTopic: 1}, ts)
	assert.EqualValues(t, 3, s.Summary().PageCount(0, 0))
	assert.Equal(t, 4.0, s.UserTopic(0, 0, 0))

	require.NoError(t, s.ChangeAssignment(1, Assignment{Topic: 0, Pov: 1}))
	ts = s.Summary().Topic(0)
	assert.Equal(t, TopicSummary{Total: 3}, ts)
	rev, err := s.Summary().PovPair(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, PovSummary{Revert: 1}, rev)
	norev, err := s.Summary().PovPair(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, PovSummary{NoRevert: 1}, norev)
	assert.Equal(t, 3.0, s.UserTopic(0, 0, 0))
	assert.Equal(t, 2.0, s.UserTopic(0, 0, 1))

	for id := int64(0); id < 3; id++ {
		require.NoError(t, s.ChangeIndexes(id, -1))
	}
	assert.Empty(t, s.CheckZero())
}

func TestChangeIndexesDetectsNegativeCounts(t *testing.T) {
	s := openChain(t, ReadOnly)
	s.SetAssignment(0, Assignment{Topic: 1, Pov: 0})

	err := s.ChangeIndexes(0, -1)
	require.ErrorIs(t, err, ErrNegativeCount)
}

func TestChangeIndexesRejectsUnassigned(t *testing.T) {
	s := openChain(t, ReadOnly)

	require.ErrorIs(t, s.ChangeIndexes(0, 1), ErrUnassigned)
	require.ErrorIs(t, s.ChangeIndexes(3, 1), ErrNoRevision)
	require.ErrorIs(t, s.ChangeIndexes(99, 1), ErrNoRevision)
}

func TestPovPairRejectsSamePov(t *testing.T) {
	s := openChain(t, ReadOnly)

	_, err := s.Summary().PovPair(0, 1, 1)
	require.ErrorIs(t, err, ErrSamePov)
	_, err = s.Summary().Add(StatLocation{Kind: StatPovRevert, Topic: 0, Pov: 1, Antagonist: 1}, 1)
	require.ErrorIs(t, err, ErrSamePov)
}

func TestReferenceLocations(t *testing.T) {
	a00 := Assignment{Topic: 0, Pov: 0}
	a01 := Assignment{Topic: 0, Pov: 1}
	a10 := Assignment{Topic: 1, Pov: 0}
	total0 := StatLocation{Kind: StatTopicTotal, Topic: 0}

	tests := []struct {
		name          string
		parent, child Assignment
		disagrees     bool
		first, second StatLocation
	}{
		{"unassigned child", a00, Unassigned, true, Scratch, Scratch},
		{"unassigned parent", Unassigned, a00, true, total0, Scratch},
		{"pov revert", a01, a00, true, total0, StatLocation{Kind: StatPovRevert, Topic: 0, Pov: 0, Antagonist: 1}},
		{"pov norevert", a01, a00, false, total0, StatLocation{Kind: StatPovNoRevert, Topic: 0, Pov: 0, Antagonist: 1}},
		{"topic revert", a00, a00, true, total0, StatLocation{Kind: StatRevertTopic, Topic: 0}},
		{"topic norevert", a00, a00, false, total0, StatLocation{Kind: StatNoRevertTopic, Topic: 0}},
		{"general revert", a10, a00, true, total0, StatLocation{Kind: StatRevertGeneral, Topic: 0}},
		{"general norevert", a10, a01, false, total0, StatLocation{Kind: StatNoRevertGeneral, Topic: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, second := ReferenceLocations(tt.parent, tt.child, tt.disagrees)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.second, second)
		})
	}
}

func TestAntagonismIndexIsDense(t *testing.T) {
	sum := newSummary(make([]byte, summaryRegionSize(1, 4, 0)), 1, 4, 0)
	seen := map[int]bool{}
	for p := int32(0); p < 4; p++ {
		for a := int32(0); a < 4; a++ {
			if p == a {
				continue
			}
			off, err := sum.povBase(0, p, a)
			require.NoError(t, err)
			assert.False(t, seen[off], "pair (%d,%d) collides", p, a)
			seen[off] = true
		}
	}
	assert.Len(t, seen, 12)
}

func TestClonedSummaryIsIndependent(t *testing.T) {
	s := openChain(t, ReadOnly)
	live := s.Summary()
	replica := live.Clone()

	_, err := replica.Add(StatLocation{Kind: StatTopicTotal, Topic: 1}, 2)
	require.NoError(t, err)
	assert.Zero(t, live.Topic(1).Total)
	assert.False(t, replica.Equal(live))

	_, err = replica.AddPageCount(1, 0, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, live.PageCount(1, 0), "page block is shared")

	replica.CopyFrom(live)
	assert.True(t, replica.Equal(live))
}

func TestModesPersistence(t *testing.T) {
	tests := []struct {
		mode    Mode
		persist bool
	}{
		{ReadOnly, false},
		{Staged, true},
		{Direct, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			dir := writeChain(t)
			require.NoError(t, Create(dir, testHyper, 1))

			s, err := Open(dir, tt.mode)
			require.NoError(t, err)
			s.SetAssignment(2, Assignment{Topic: 1, Pov: 1})
			s.IncrementIterations()
			require.NoError(t, s.Flush())
			require.NoError(t, s.Close())

			s, err = Open(dir, ReadOnly)
			require.NoError(t, err)
			defer s.Close()
			if tt.persist {
				assert.Equal(t, Assignment{Topic: 1, Pov: 1}, s.Assignment(2))
				assert.EqualValues(t, 1, s.Iterations())
			} else {
				assert.Equal(t, Unassigned, s.Assignment(2))
				assert.Zero(t, s.Iterations())
			}
		})
	}
}

func TestDiscardKeepsFiles(t *testing.T) {
	dir := writeChain(t)
	require.NoError(t, Create(dir, testHyper, 1))
	before, err := os.ReadFile(filepath.Join(dir, AssignmentsFile))
	require.NoError(t, err)

	s, err := Open(dir, Staged)
	require.NoError(t, err)
	s.SetAssignment(2, Assignment{Topic: 1, Pov: 1})
	s.IncrementIterations()
	require.NoError(t, s.Discard())
	assert.False(t, s.HasInference())

	after, err := os.ReadFile(filepath.Join(dir, AssignmentsFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetIterations(t *testing.T) {
	s := openChain(t, ReadOnly)
	s.SetIterations(7)
	assert.EqualValues(t, 7, s.Iterations())
	assert.EqualValues(t, 8, s.IncrementIterations())
}

func TestSnapshotFiles(t *testing.T) {
	s := openChain(t, ReadOnly)
	s.SetAssignment(0, Assignment{Topic: 1, Pov: 0})
	buf := s.Snapshot()

	for _, name := range []string{"saved_assignments00001", "saved_assignments00001.zst"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, WriteSnapshotFile(path, buf))

		snap, err := ReadSnapshotFile(path)
		require.NoError(t, err)
		require.NoError(t, snap.Fits(s))
		assert.Equal(t, buf, snap.Bytes())
		assert.Equal(t, Assignment{Topic: 1, Pov: 0}, snap.At(0))
		assert.Equal(t, Unassigned, snap.At(1))
	}

	_, err := ParseAssignments(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrCorruptRegion)
}

func TestSetAssignmentsAnyOrder(t *testing.T) {
	s := openChain(t, ReadOnly)

	n, err := s.SetAssignments(strings.NewReader("2 0 1\n1 0 0\n\n0 0 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ts := s.Summary().Topic(0)
	assert.EqualValues(t, 3, ts.Total)
	assert.EqualValues(t, 1, ts.RevertTopic)
	ps, err := s.Summary().PovPair(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, PovSummary{NoRevert: 1}, ps)

	info := s.Info()
	assert.EqualValues(t, 3, info.Assigned)
}

func TestSetAssignmentsRejectsBadLines(t *testing.T) {
	s := openChain(t, ReadOnly)

	_, err := s.SetAssignments(strings.NewReader("0 5 0\n"))
	require.Error(t, err)
	_, err = s.SetAssignments(strings.NewReader("3 0 0\n"))
	require.ErrorIs(t, err, ErrNoRevision)
	_, err = s.SetAssignments(strings.NewReader("0 0\n"))
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"readonly": ReadOnly, "Staged": Staged, " mmap ": Direct} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("lazy")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestHyperparametersValidate(t *testing.T) {
	require.NoError(t, testHyper.Validate())

	bad := testHyper
	bad.Povs = 1
	bad.Beta = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "povs")
	assert.Contains(t, err.Error(), "beta")
}
