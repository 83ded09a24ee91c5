package compose

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/allenlavoie/topic-pov/internal/compare"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/ingest"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// user 1 reverts user 0 on page 0; user 2 edits page 1 alone.
const revisions = "0\t1\t0\t0\t-1\tf\n" +
	"0\t2\t1\t1\t0\tt\n" +
	"1\t3\t2\t2\t-1\tf\n"

func openLabelled(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	if _, err := ingest.Ingest(dir, strings.NewReader(revisions), ingest.Options{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	hp := store.Hyperparameters{Topics: 2, Povs: 2, PsiAlpha: 1, PsiBeta: 1, GammaAlpha: 1, GammaBeta: 1, Beta: 1, Alpha: 1}
	if err := store.Create(dir, hp, 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	st, err := store.Open(dir, store.ReadOnly)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.SetAssignments(strings.NewReader("0 0 0\n1 0 1\n2 1 0\n")); err != nil {
		t.Fatalf("SetAssignments: %v", err)
	}
	return st
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestModelReport(t *testing.T) {
	st := openLabelled(t)
	db := openTestDB(t)
	runID, _ := db.StartRun(st.Dir(), "infer", "staged", 2, 0)
	db.FinishRun(runID, 4, nil)

	report, err := NewComposer(st, db).ModelReport(Options{
		Pairs: []compare.Pair{{First: 0, Second: 2}, {First: 0, Second: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"# Model report",
		"- **Revisions:** 3 (3 labelled)",
		"- **Topics:** 2 with 2 POVs each",
		"## Topics",
		"## POV controversy",
		"| 0 | 0 | 0.500 |",
		"| 1 | 1 | 0.000 |",
		"| 0 / 1 | 0.5833 |",
		"[" + runID[:8] + "](/runs/" + runID + ") | infer | completed | 4 |",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("expected %q in report:\n%s", want, report)
		}
	}
	if strings.Index(report, "| 0 / 1 |") > strings.Index(report, "| 0 / 2 |") {
		t.Error("expected pairs ranked by antagonism")
	}
}

func TestModelReportWithoutLedgerOrPairs(t *testing.T) {
	report, err := NewComposer(openLabelled(t), nil).ModelReport(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(report, "_No user pairs configured._") {
		t.Error("expected the empty pairs note")
	}
	if !strings.Contains(report, "_No ledger._") {
		t.Error("expected the missing ledger note")
	}
}

func TestModelReportTopPairs(t *testing.T) {
	pairs := []compare.Pair{{First: 0, Second: 1}, {First: 1, Second: 2}, {First: 0, Second: 2}}
	report, err := NewComposer(openLabelled(t), nil).ModelReport(Options{Pairs: pairs, TopPairs: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(report, " / ") != 1 {
		t.Errorf("expected one ranked pair:\n%s", report)
	}
}

func TestModelReportRejectsUnknownUser(t *testing.T) {
	_, err := NewComposer(openLabelled(t), nil).ModelReport(Options{Pairs: []compare.Pair{{First: 0, Second: 9}}})
	if err == nil {
		t.Fatal("expected an error for an unknown user")
	}
}

func TestModelReportNeedsInference(t *testing.T) {
	dir := t.TempDir()
	if _, err := ingest.Ingest(dir, strings.NewReader(revisions), ingest.Options{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	st, err := store.OpenRevisions(dir)
	if err != nil {
		t.Fatalf("OpenRevisions: %v", err)
	}
	defer st.Close()
	if _, err := NewComposer(st, nil).ModelReport(Options{}); err == nil {
		t.Fatal("expected an error without inference state")
	}
}
