// Package web serves the upload page, the JSON API and run artifacts.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/KaramelBytes/mpie/internal/engine"
	"github.com/KaramelBytes/mpie/internal/history"
	"github.com/KaramelBytes/mpie/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Analyzer is the part of the engine the handlers need.
type Analyzer interface {
	Analyze(ctx context.Context, req engine.Request) (*engine.Run, error)
	RunDir(id string) (string, error)
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options configures the HTTP layer.
type Options struct {
	// UploadDir holds uploads while they are analysed; empty means os.TempDir.
	UploadDir      string
	MaxUploadBytes int64
}

// Server wires handlers to the engine.
type Server struct {
	engine  Analyzer
	metrics *metrics.Metrics
	opts    Options
	log     logrus.FieldLogger
}

func NewServer(eng Analyzer, m *metrics.Metrics, opts Options, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{engine: eng, metrics: m, opts: opts, log: log.WithField("component", "web")}
}

// Routes builds the router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))
	r.Use(recoveryMiddleware(s.log))

	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/analyze", s.analyzePage).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/chart.png", s.runFile(engine.ChartFile, "image/png")).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/report.pdf", s.runFile(engine.PDFFile, "application/pdf")).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/analyze", s.apiAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.apiRuns).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case engine.KindInput:
		return http.StatusBadRequest
	case engine.KindScript, engine.KindFormat:
		return http.StatusBadGateway
	case engine.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
