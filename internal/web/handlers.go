package web

import (
	"html/template"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/KaramelBytes/mpie/internal/engine"
	"github.com/KaramelBytes/mpie/internal/history"
)

const recentOnPage = 10

type runRow struct {
	When          string
	Filename      string
	Status        string
	BestColumn    string
	RelationCount int
}

type pageData struct {
	Summary  template.HTML
	ChartURL string
	PDFURL   string
	Profile  string
	Runs     []runRow
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	if entries, err := s.engine.Recent(r.Context(), recentOnPage); err == nil {
		for _, e := range entries {
			data.Runs = append(data.Runs, runRow{
				When:          humanize.Time(e.CreatedAt),
				Filename:      e.Filename,
				Status:        e.Status,
				BestColumn:    e.BestColumn,
				RelationCount: e.RelationCount,
			})
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, data); err != nil {
		s.log.WithError(err).Error("render page")
	}
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, pageData{})
}

func (s *Server) analyzePage(w http.ResponseWriter, r *http.Request) {
	run, err := s.analyzeUpload(w, r)
	if err != nil {
		html, _ := markdownHTML(engine.FailureMarkdown(err))
		s.render(w, r, statusFor(engine.Kind(err)), pageData{Summary: html})
		return
	}
	html, err := markdownHTML(run.Summary)
	if err != nil {
		s.log.WithError(err).Error("render summary")
		html = template.HTML(template.HTMLEscapeString(run.Summary))
	}
	data := pageData{Summary: html, Profile: run.ProfileMarkdown, PDFURL: "/runs/" + run.ID + "/report.pdf"}
	if run.ChartPath != "" {
		data.ChartURL = "/runs/" + run.ID + "/chart.png"
	}
	s.render(w, r, http.StatusOK, data)
}

// analyzeUpload stores the upload, runs the engine and removes the upload.
func (s *Server) analyzeUpload(w http.ResponseWriter, r *http.Request) (*engine.Run, error) {
	path, name, cleanup, err := s.saveUpload(w, r)
	defer cleanup()
	if err != nil {
		if engine.Kind(err) != engine.KindInput {
			s.log.WithError(err).Error("store upload")
		}
		return nil, err
	}
	return s.engine.Analyze(r.Context(), engine.Request{Path: path, Filename: name})
}

type apiError struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	RunID     string `json:"run_id,omitempty"`
}

type apiMetric struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

type apiRelation struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Degree      int      `json:"degree"`
	RSquared    *float64 `json:"r_squared"`
}

// APIRun is the JSON shape of a finished run, shared by the API and the CLI.
type APIRun struct {
	RunID       string        `json:"run_id"`
	Filename    string        `json:"filename"`
	DatasetHash string        `json:"dataset_hash"`
	Revision    string        `json:"revision"`
	Format      string        `json:"format"`
	BestColumn  string        `json:"best_column"`
	Reward      []apiMetric   `json:"reward"`
	Relations   []apiRelation `json:"relations"`
	Summary     string        `json:"summary"`
	Profile     string        `json:"profile"`
	ChartURL    string        `json:"chart_url,omitempty"`
	PDFURL      string        `json:"pdf_url"`
	Reused      bool          `json:"reused"`
	DurationMS  int64         `json:"duration_ms"`
}

// finite maps NaN and infinities to null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NewAPIRun converts run, mapping non-finite scores to null.
func NewAPIRun(run *engine.Run) APIRun {
	out := APIRun{
		RunID:       run.ID,
		Filename:    run.Filename,
		DatasetHash: run.DatasetHash,
		Revision:    run.Revision,
		Format:      run.Result.Format,
		BestColumn:  run.Result.BestColumn,
		Reward:      make([]apiMetric, 0, len(run.Result.Reward)),
		Relations:   make([]apiRelation, 0, len(run.Result.Relations)),
		Summary:     run.Summary,
		Profile:     run.ProfileMarkdown,
		PDFURL:      "/runs/" + run.ID + "/report.pdf",
		Reused:      run.Reused,
		DurationMS:  run.Duration.Milliseconds(),
	}
	for _, m := range run.Result.Reward {
		out.Reward = append(out.Reward, apiMetric{Name: m.Name, Value: finite(m.Value)})
	}
	for _, rel := range run.Result.Relations {
		out.Relations = append(out.Relations, apiRelation{
			Source: rel.Source, Destination: rel.Destination, Degree: rel.Degree, RSquared: finite(rel.RSquared),
		})
	}
	if run.ChartPath != "" {
		out.ChartURL = "/runs/" + run.ID + "/chart.png"
	}
	return out
}

func (s *Server) apiAnalyze(w http.ResponseWriter, r *http.Request) {
	run, err := s.analyzeUpload(w, r)
	if err != nil {
		kind := engine.Kind(err)
		writeJSON(w, statusFor(kind), apiError{ErrorKind: kind, Message: engine.UserMessage(err), RunID: engine.RunID(err)})
		return
	}
	writeJSON(w, http.StatusOK, NewAPIRun(run))
}

func (s *Server) apiRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, apiError{ErrorKind: engine.KindInput, Message: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	entries, err := s.engine.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("list runs")
		writeJSON(w, http.StatusInternalServerError, apiError{ErrorKind: engine.KindInternal, Message: "internal error"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func (s *Server) runFile(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir, err := s.engine.RunDir(mux.Vars(r)["id"])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		if name == engine.PDFFile {
			w.Header().Set("Content-Disposition", `attachment; filename="mpie-report.pdf"`)
		}
		http.ServeFile(w, r, p)
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
