package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/allenlavoie/topic-pov/internal/store"
)

const sample = "0\t100\t0\t0\t-1\tf\n" +
	"0\t200\t1\t1\t0\tt\n" +
	"1\t300\t1\t3\t-1\tf\n" +
	"0\t400\t0\t4\t1\tf\n" +
	"1\t500\t0\t5\t1\tt\n" + // parent on another page
	"0\t600\t2\t6\t1\tt\n" + // parent already has a child
	"1\t700\t2\t7\t9\tf\n" // parent never occurs

func ingestSample(t *testing.T, tsv string) (string, Stats) {
	t.Helper()
	dir := t.TempDir()
	stats, err := Ingest(dir, strings.NewReader(tsv), Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return dir, stats
}

func TestIngestResolvesLinks(t *testing.T) {
	dir, stats := ingestSample(t, sample)

	if stats.Revisions != 8 || stats.Pages != 2 || stats.Users != 3 {
		t.Fatalf("counts = %d/%d/%d, want 8/2/3", stats.Revisions, stats.Pages, stats.Users)
	}
	if stats.CrossPage != 1 || stats.SecondChild != 1 || stats.MissingParent != 1 {
		t.Errorf("dropped links = %+v", stats)
	}

	st, err := store.OpenRevisions(dir)
	if err != nil {
		t.Fatalf("OpenRevisions: %v", err)
	}
	defer st.Close()

	want := map[int64]store.Revision{
		0: {Page: 0, Timestamp: 100, User: 0, Parent: -1, Child: 1},
		1: {Page: 0, Timestamp: 200, User: 1, Parent: 0, Child: 4, Disagrees: true},
		3: {Page: 1, Timestamp: 300, User: 1, Parent: -1, Child: -1},
		4: {Page: 0, Timestamp: 400, User: 0, Parent: 1, Child: -1},
		5: {Page: 1, Timestamp: 500, User: 0, Parent: -1, Child: -1, Disagrees: true},
		6: {Page: 0, Timestamp: 600, User: 2, Parent: -1, Child: -1, Disagrees: true},
		7: {Page: 1, Timestamp: 700, User: 2, Parent: -1, Child: -1},
	}
	for id, rev := range want {
		if got := st.Revision(id); got != rev {
			t.Errorf("revision %d = %+v, want %+v", id, got, rev)
		}
	}
	if st.Revision(2).Exists() {
		t.Error("revision 2 never occurs and should be a phantom")
	}
	if got := st.PageRevisions(0).Slice(); !slices.Equal(got, []int64{0, 1, 4, 6}) {
		t.Errorf("page 0 = %v", got)
	}
	if got := st.UserRevisions(0).Slice(); !slices.Equal(got, []int64{0, 4, 5}) {
		t.Errorf("user 0 = %v", got)
	}
}

func TestIngestResolvesForwardParents(t *testing.T) {
	// The child is listed before its parent.
	dir, _ := ingestSample(t, "0\t2\t0\t1\t0\tt\n0\t1\t0\t0\t-1\tf\n")
	st, err := store.OpenRevisions(dir)
	if err != nil {
		t.Fatalf("OpenRevisions: %v", err)
	}
	defer st.Close()
	if st.Revision(1).Parent != 0 || st.Revision(0).Child != 1 {
		t.Errorf("link not resolved: %+v %+v", st.Revision(0), st.Revision(1))
	}
}

func TestIngestRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"fields":    "0\t1\t0\t0\t-1\n",
		"number":    "0\tnoon\t0\t0\t-1\tf\n",
		"flag":      "0\t1\t0\t0\t-1\tmaybe\n",
		"negative":  "-2\t1\t0\t0\t-1\tf\n",
		"self":      "0\t1\t0\t3\t3\tf\n",
		"duplicate": "0\t1\t0\t0\t-1\tf\n0\t2\t0\t0\t-1\tf\n",
	}
	for name, tsv := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Ingest(t.TempDir(), strings.NewReader(tsv), Options{})
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestIngestReportsLineNumber(t *testing.T) {
	_, err := Ingest(t.TempDir(), strings.NewReader("0\t1\t0\t0\t-1\tf\n\n0\tx\t0\t1\t-1\tf\n"), Options{})
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("err = %v, want line 3", err)
	}
}

func TestIngestSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	stats, err := Ingest(dir, strings.NewReader("0\t1\t0\t0\t-1\tf\ngarbage\n0\t2\t0\t1\t0\tt\n"), Options{SkipMalformed: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Skipped != 1 || stats.Revisions != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIngestRejectsCycles(t *testing.T) {
	_, err := Ingest(t.TempDir(), strings.NewReader("0\t1\t0\t0\t1\tf\n0\t2\t0\t1\t0\tt\n"), Options{})
	if !errors.Is(err, ErrCyclicParents) {
		t.Fatalf("err = %v, want ErrCyclicParents", err)
	}
}

func TestVerify(t *testing.T) {
	dir, _ := ingestSample(t, sample)

	problems, err := Verify(dir, strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("clean regions reported %v", problems)
	}

	changed := strings.Replace(sample, "0\t400\t0\t4", "0\t401\t0\t4", 1)
	problems, err = Verify(dir, strings.NewReader(changed))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(problems) != 1 || !strings.Contains(problems[0], "revision 4") {
		t.Errorf("problems = %v, want one for revision 4", problems)
	}
}

func TestVerifyDetectsCountMismatch(t *testing.T) {
	dir, _ := ingestSample(t, sample)
	problems, err := Verify(dir, strings.NewReader(sample+"2\t800\t0\t8\t-1\tf\n"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(problems) != 1 || !strings.HasPrefix(problems[0], "counts") {
		t.Errorf("problems = %v", problems)
	}
}

func TestVerifyMissingRegions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, store.RevisionsFile), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(dir, strings.NewReader(sample)); err == nil {
		t.Fatal("expected an error for a truncated store")
	}
}
