// Package server serves the model dashboard: the rendered report, per-run
// likelihood traces and the sampler metrics.
package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/allenlavoie/topic-pov/internal/compose"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/estimate"
	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/metrics"
	"github.com/allenlavoie/topic-pov/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Server is the HTTP server for the dashboard.
type Server struct {
	composer *compose.Composer
	db       *database.DB
	metrics  *metrics.Metrics
	opts     compose.Options
	log      *logging.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a Server for st. db and m may be nil, which leaves out run
// pages and /metrics.
func New(st *store.Store, db *database.DB, m *metrics.Metrics, opts compose.Options, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"likelihood": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return strconv.FormatFloat(*v, 'f', 4, 64)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so their "content" blocks do
	// not collide.
	pageNames := []string{"index.html", "run.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		composer: compose.NewComposer(st, db),
		db:       db,
		metrics:  m,
		opts:     opts,
		log:      log,
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	report, err := s.composer.ModelReport(s.opts)
	if err != nil {
		s.log.Error("composing report", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{
		"Report": report,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.NotFound(w, r)
		return
	}
	id := r.PathValue("id")
	run, err := s.db.GetRun(id)
	if errors.Is(err, database.ErrRunNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.log.Error("loading run", "run", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	trace, err := s.db.IterationTrace(id)
	if err != nil {
		s.log.Error("loading trace", "run", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	snaps, _ := s.db.GetSnapshots(id)
	ests, _ := s.db.GetEstimates(id)

	var res estimate.Result
	for _, e := range ests {
		res.Trials = append(res.Trials, e.Value)
	}

	s.render(w, "run.html", map[string]any{
		"Run":          run,
		"Trace":        trace,
		"Snapshots":    snaps,
		"Estimates":    ests,
		"EstimateMean": res.Mean(),
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("rendering template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the dashboard on the given port.
func Serve(srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv.log.Info("dashboard listening", "url", "http://"+addr)
	return http.ListenAndServe(addr, srv.Handler())
}
