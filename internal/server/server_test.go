package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/allenlavoie/topic-pov/internal/compose"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/ingest"
	"github.com/allenlavoie/topic-pov/internal/metrics"
	"github.com/allenlavoie/topic-pov/internal/sampler"
	"github.com/allenlavoie/topic-pov/internal/store"
)

func openLabelled(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	tsv := "0\t1\t0\t0\t-1\tf\n0\t2\t1\t1\t0\tt\n1\t3\t2\t2\t-1\tf\n"
	if _, err := ingest.Ingest(dir, strings.NewReader(tsv), ingest.Options{}); err != nil {
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

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func ptr(f float64) *float64 { return &f }

func TestIndexRoute(t *testing.T) {
	srv, err := New(openLabelled(t), openTestDB(t), nil, compose.Options{}, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h1>Model report</h1>") {
		t.Error("expected the rendered report heading")
	}
	if !strings.Contains(body, "<table>") {
		t.Error("expected markdown tables rendered as HTML")
	}
}

func TestUnknownPath(t *testing.T) {
	srv, _ := New(openLabelled(t), nil, nil, compose.Options{}, nil)
	if rec := get(t, srv, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRunRoute(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.StartRun("/m", "infer", "staged", 2, 0)
	db.RecordIteration(database.Iteration{RunID: id, Iteration: 1, LogLikelihood: ptr(-42.125), Transitions: 3})
	db.RecordIteration(database.Iteration{RunID: id, Iteration: 2})
	db.RecordSnapshot(id, 2, "/m/saved_assignments00002.zst", true)
	db.RecordEstimate(id, 0, -10)
	db.RecordEstimate(id, 1, -12)
	db.FinishRun(id, 2, nil)

	srv, err := New(openLabelled(t), db, nil, compose.Options{}, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/runs/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{id, "-42.1250", "saved_assignments00002.zst", "(zstd)", "-11.0000", "completed"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in run page", want)
		}
	}
}

func TestRunRouteNotFound(t *testing.T) {
	srv, _ := New(openLabelled(t), openTestDB(t), nil, compose.Options{}, nil)
	if rec := get(t, srv, "/runs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	noLedger, _ := New(openLabelled(t), nil, nil, compose.Options{}, nil)
	if rec := get(t, noLedger, "/runs/anything"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a ledger, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.ObserveSweep(sampler.SweepStats{Mode: sampler.ModeResample, Duration: time.Millisecond, Visited: 3})

	srv, _ := New(openLabelled(t), nil, m, compose.Options{}, nil)
	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `topicpov_sweeps_total{mode="resample"} 1`) {
		t.Error("expected the sweep counter in /metrics")
	}

	bare, _ := New(openLabelled(t), nil, nil, compose.Options{}, nil)
	if rec := get(t, bare, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without metrics, got %d", rec.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	srv, _ := New(openLabelled(t), nil, nil, compose.Options{}, nil)
	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
