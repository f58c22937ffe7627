package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/KaramelBytes/mpie/internal/artifact"
	cfgpkg "github.com/KaramelBytes/mpie/internal/config"
	"github.com/KaramelBytes/mpie/internal/dataset"
	"github.com/KaramelBytes/mpie/internal/engine"
	"github.com/KaramelBytes/mpie/internal/history"
	"github.com/KaramelBytes/mpie/internal/metrics"
	"github.com/KaramelBytes/mpie/internal/render"
	"github.com/KaramelBytes/mpie/internal/runner"
)

// app bundles the collaborators shared by serve, fetch and analyze.
type app struct {
	cfg     *cfgpkg.Global
	log     *logrus.Logger
	fetcher *artifact.Fetcher
	history *history.Store
	metrics *metrics.Metrics
	engine  *engine.Engine
}

func newFetcher(c *cfgpkg.Global, m *metrics.Metrics, log logrus.FieldLogger) (*artifact.Fetcher, error) {
	return artifact.New(artifact.Options{
		Endpoint:    c.HubEndpoint,
		Repo:        c.ModelRepo,
		Revision:    c.ModelRevision,
		Token:       c.HubToken,
		CacheDir:    c.CacheDir,
		Verify:      c.VerifyCache,
		Timeout:     c.FetchTimeout(),
		Concurrency: c.FetchConcurrency,
		Observe:     m.ObserveFetch,
	}, log)
}

// buildApp wires config into the engine. Callers must call close.
func buildApp(c *cfgpkg.Global) (*app, error) {
	log, err := newLogger(c)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	fetcher, err := newFetcher(c, m, log)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(c.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	run := runner.New(runner.Options{
		Python:  c.Python,
		Args:    c.ScriptArgs,
		Timeout: c.RunTimeout(),
	}, log)

	pdf := render.DefaultPDFOptions()
	if c.PDFWrapWidth > 0 {
		pdf.WrapWidth = c.PDFWrapWidth
	}
	eng, err := engine.New(engine.Options{
		WorkDir:        c.WorkDir,
		ScriptName:     c.ScriptName,
		MaxConcurrent:  c.MaxConcurrent,
		ReuseResults:   c.ReuseResults,
		RunTTL:         c.RunTTL(),
		MaxUploadBytes: c.MaxUploadBytes(),
		PDF:            pdf,
		Profile:        dataset.DefaultOptions(),
		Invocation:     append([]string{c.Python}, c.ScriptArgs...),
	}, engine.Deps{
		Snapshots: fetcher,
		Runner:    run,
		History:   store,
		Metrics:   m,
	}, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &app{cfg: c, log: log, fetcher: fetcher, history: store, metrics: m, engine: eng}, nil
}

func (a *app) uploadDir() string { return filepath.Join(a.cfg.WorkDir, "uploads") }

func (a *app) close() {
	if err := a.history.Close(); err != nil {
		a.log.WithError(err).Warn("close history")
	}
}
