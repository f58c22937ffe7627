// Package engine runs one analysis end to end: dataset checks, model
// snapshot, script execution, parsing, rendering and bookkeeping.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/semaphore"

	"github.com/KaramelBytes/mpie/internal/artifact"
	"github.com/KaramelBytes/mpie/internal/dataset"
	"github.com/KaramelBytes/mpie/internal/history"
	"github.com/KaramelBytes/mpie/internal/metrics"
	"github.com/KaramelBytes/mpie/internal/render"
	"github.com/KaramelBytes/mpie/internal/report"
	"github.com/KaramelBytes/mpie/internal/runner"
	"github.com/KaramelBytes/mpie/internal/utils"
)

// Files written into each run directory.
const (
	ChartFile = "chart.png"
	PDFFile   = "report.pdf"
)

// ErrUnknownRun is returned for run IDs that are malformed or expired.
var ErrUnknownRun = errors.New("unknown run")

// Snapshotter provides the local model snapshot.
type Snapshotter interface {
	Ensure(ctx context.Context) (*artifact.Snapshot, error)
}

// ScriptRunner executes the analysis script.
type ScriptRunner interface {
	Run(ctx context.Context, script, dataPath string) (*runner.Output, error)
}

// Options configures an Engine.
type Options struct {
	WorkDir        string
	ScriptName     string
	MaxConcurrent  int
	ReuseResults   bool
	RunTTL         time.Duration
	MaxUploadBytes int64
	PDF            render.PDFOptions
	Profile        dataset.Options
	// Invocation lists what else shapes the script's output besides the
	// dataset and snapshot, typically the interpreter and its arguments.
	// Earlier results are only reused under the same invocation.
	Invocation []string
}

// Deps are the collaborators of an Engine. History and Metrics are optional.
type Deps struct {
	Snapshots Snapshotter
	Runner    ScriptRunner
	History   *history.Store
	Metrics   *metrics.Metrics
}

// Engine is safe for concurrent use.
type Engine struct {
	opts   Options
	deps   Deps
	sem    *semaphore.Weighted
	log    logrus.FieldLogger
	now    func() time.Time
	runKey string
}

// Request names the dataset to analyse. Filename is the user-facing name;
// Path is where the bytes are.
type Request struct {
	Path     string
	Filename string
}

// Run is a completed analysis.
type Run struct {
	ID              string           `json:"id"`
	Filename        string           `json:"filename"`
	DatasetHash     string           `json:"dataset_hash"`
	Revision        string           `json:"revision"`
	Stdout          string           `json:"-"`
	Result          *report.Result   `json:"result"`
	Profile         *dataset.Profile `json:"-"`
	Summary         string           `json:"summary"`
	ProfileMarkdown string           `json:"profile"`
	ChartPath       string           `json:"-"`
	PDFPath         string           `json:"-"`
	Duration        time.Duration    `json:"duration_ns"`
	Reused          bool             `json:"reused"`
	CreatedAt       time.Time        `json:"created_at"`
}

func New(opts Options, deps Deps, log logrus.FieldLogger) (*Engine, error) {
	if deps.Snapshots == nil || deps.Runner == nil {
		return nil, errors.New("engine: snapshots and runner are required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("engine: work dir is required")
	}
	if opts.ScriptName == "" {
		opts.ScriptName = "analyze.py"
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.PDF.WrapWidth <= 0 {
		opts.PDF = render.DefaultPDFOptions()
	}
	if opts.Profile.MaxRows == 0 && opts.Profile.SampleRows == 0 {
		opts.Profile = dataset.DefaultOptions()
	}
	if err := utils.EnsureDir(opts.WorkDir); err != nil {
		return nil, fmt.Errorf("engine: work dir: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		opts:   opts,
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:    log.WithField("component", "engine"),
		now:    time.Now,
		runKey: runKey(opts.ScriptName, opts.Invocation),
	}, nil
}

// Analyze runs the whole pipeline for req. Failures come back as *RunError;
// use Kind to classify them.
func (e *Engine) Analyze(ctx context.Context, req Request) (*Run, error) {
	start := e.now()
	run := &Run{ID: uuid.NewString(), Filename: req.Filename, CreatedAt: start}
	if run.Filename == "" {
		run.Filename = filepath.Base(req.Path)
	}
	log := e.log.WithFields(logrus.Fields{"run_id": run.ID, "file": run.Filename})

	err := e.analyze(ctx, run, req, log)
	run.Duration = e.now().Sub(start)
	e.record(run, err, log)
	if err != nil {
		_ = os.RemoveAll(e.runDir(run.ID))
		return nil, &RunError{RunID: run.ID, Err: err}
	}
	log.WithFields(logrus.Fields{
		"best_column": run.Result.BestColumn,
		"relations":   len(run.Result.Relations),
		"reused":      run.Reused,
		"duration":    run.Duration.Round(time.Millisecond),
	}).Info("analysis finished")
	return run, nil
}

func (e *Engine) analyze(ctx context.Context, run *Run, req Request, log logrus.FieldLogger) error {
	if !dataset.Accepts(run.Filename) {
		return &dataset.InputError{Name: run.Filename, Reason: "unsupported file type (want .csv, .tsv or .txt)"}
	}
	if err := dataset.Validate(req.Path, e.opts.MaxUploadBytes); err != nil {
		return renameInput(err, run.Filename)
	}
	// The profile is informational; the script gets the file either way.
	if prof, err := dataset.ProfileFile(req.Path, e.opts.Profile); err != nil {
		log.WithError(err).Warn("dataset profile unavailable")
	} else {
		prof.Name = run.Filename
		run.Profile = prof
		run.ProfileMarkdown = prof.Markdown()
	}

	snap, err := e.deps.Snapshots.Ensure(ctx)
	if err != nil {
		return err
	}
	run.Revision = snap.Commit
	script, err := snap.Path(e.opts.ScriptName)
	if err != nil {
		return &runner.StartError{Command: e.opts.ScriptName, Err: err}
	}

	if run.DatasetHash, err = hashFile(req.Path); err != nil {
		return fmt.Errorf("hash dataset: %w", err)
	}

	stdout, reused, err := e.reusable(ctx, run, log)
	if err != nil {
		return err
	}
	if !reused {
		if stdout, err = e.execute(ctx, script, req.Path); err != nil {
			return err
		}
	}
	run.Stdout = stdout
	run.Reused = reused

	res, err := report.Parse(stdout)
	if err != nil {
		log.WithField("stdout", tailString(stdout, 2048)).Warn("unexpected script output")
		return err
	}
	run.Result = res
	run.Summary = report.Summary(res, e.now())
	return e.renderArtifacts(run)
}

// reusable looks up an earlier identical run.
func (e *Engine) reusable(ctx context.Context, run *Run, log logrus.FieldLogger) (string, bool, error) {
	if !e.opts.ReuseResults || e.deps.History == nil {
		return "", false, nil
	}
	prev, ok, err := e.deps.History.FindReusable(ctx, run.DatasetHash, run.Revision, e.runKey)
	if err != nil {
		log.WithError(err).Warn("history lookup failed, running script")
		return "", false, nil
	}
	if !ok {
		return "", false, nil
	}
	log.WithField("previous_run", prev.ID).Debug("reusing earlier result")
	e.deps.Metrics.ObserveReuse()
	return prev.Stdout, true, nil
}

// execute runs the script once a concurrency slot is free.
func (e *Engine) execute(ctx context.Context, script, data string) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)
	done := e.deps.Metrics.Running()
	defer done()

	out, err := e.deps.Runner.Run(ctx, script, data)
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}

func (e *Engine) renderArtifacts(run *Run) error {
	dir := e.runDir(run.ID)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if chart, err := render.NewRelationChart(run.Result.Relations); err == nil {
		run.ChartPath = filepath.Join(dir, ChartFile)
		if err := utils.SafeWrite(run.ChartPath, chart.RenderPNG); err != nil {
			return fmt.Errorf("chart: %w", err)
		}
	} else if !errors.Is(err, render.ErrNoRelations) {
		return err
	}
	run.PDFPath = filepath.Join(dir, PDFFile)
	if err := render.WritePDFFile(run.PDFPath, run.Stdout, e.opts.PDF); err != nil {
		return fmt.Errorf("pdf: %w", err)
	}
	return nil
}

func (e *Engine) record(run *Run, err error, log logrus.FieldLogger) {
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
		entry := log.WithError(err).WithField("error_kind", outcome)
		if outcome == KindInput || outcome == KindCanceled {
			entry.Info("analysis rejected")
		} else {
			entry.Error("analysis failed")
		}
	}
	e.deps.Metrics.ObserveAnalysis(outcome, run.Duration.Seconds())
	if e.deps.History == nil {
		return
	}
	entry := history.Entry{
		ID:          run.ID,
		Filename:    run.Filename,
		DatasetHash: run.DatasetHash,
		Revision:    run.Revision,
		RunKey:      e.runKey,
		Status:      history.StatusOK,
		Stdout:      run.Stdout,
		Duration:    run.Duration,
		Reused:      run.Reused,
		CreatedAt:   run.CreatedAt,
	}
	if err != nil {
		entry.Status = history.StatusFailed
		entry.ErrorKind = outcome
	} else {
		entry.BestColumn = run.Result.BestColumn
		entry.RelationCount = len(run.Result.Relations)
	}
	// Bookkeeping must not depend on the request context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.History.Record(ctx, entry); err != nil {
		log.WithError(err).Warn("record history")
	}
}

// Recent lists recorded runs, newest first.
func (e *Engine) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if e.deps.History == nil {
		return nil, nil
	}
	return e.deps.History.Recent(ctx, limit)
}

func (e *Engine) runDir(id string) string { return filepath.Join(e.opts.WorkDir, id) }

// RunDir resolves the directory of a finished run.
func (e *Engine) RunDir(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrUnknownRun
	}
	dir := e.runDir(id)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", ErrUnknownRun
	}
	return dir, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo), nil
}

// renameInput reports input errors under the user-facing file name rather
// than the temp file the upload was stored in.
func renameInput(err error, name string) error {
	var ie *dataset.InputError
	if errors.As(err, &ie) {
		ie.Name = name
	}
	return err
}

// runKey fingerprints the script invocation for result reuse.
func runKey(script string, invocation []string) string {
	h := xxh3.New()
	_, _ = io.WriteString(h, script)
	for _, part := range invocation {
		_, _ = io.WriteString(h, "\x00"+part)
	}
	sum := h.Sum128()
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo)
}

func tailString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
