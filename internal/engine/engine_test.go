package engine

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/mpie/internal/artifact"
	"github.com/KaramelBytes/mpie/internal/dataset"
	"github.com/KaramelBytes/mpie/internal/history"
	"github.com/KaramelBytes/mpie/internal/logging"
	"github.com/KaramelBytes/mpie/internal/metrics"
	"github.com/KaramelBytes/mpie/internal/report"
	"github.com/KaramelBytes/mpie/internal/runner"
)

const goodOutput = "Best column: price\n" +
	"Reward break-down: {'accuracy': 0.91, 'coverage': 0.5}\n" +
	"Top relations:\n" +
	"area→price deg=2 R²=0.950\n" +
	"rooms→price deg=1 R²=0.700\n\n"

type fakeSnapshots struct {
	dir string
	err error
}

func (f *fakeSnapshots) Ensure(context.Context) (*artifact.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Snapshot{Dir: f.dir, Repo: "owner/repo", Revision: "main", Commit: "abc123"}, nil
}

type fakeRunner struct {
	stdout  string
	err     error
	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32
	hold    chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, script, data string) (*runner.Output, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Output{Stdout: f.stdout}, nil
}

type fixture struct {
	engine      *Engine
	runner      *fakeRunner
	history     *history.Store
	metrics     *metrics.Metrics
	data        string
	snapshotDir string
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	snapDir := filepath.Join(root, "snapshot")
	require.NoError(t, os.MkdirAll(snapDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapDir, "analyze.py"), []byte("# stub\n"), 0o644))

	store, err := history.Open(filepath.Join(root, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts := Options{WorkDir: filepath.Join(root, "runs"), ReuseResults: true, RunTTL: time.Hour}
	for _, m := range mutate {
		m(&opts)
	}
	fr := &fakeRunner{stdout: goodOutput}
	m := metrics.New()
	eng, err := New(opts, Deps{
		Snapshots: &fakeSnapshots{dir: snapDir},
		Runner:    fr,
		History:   store,
		Metrics:   m,
	}, logging.Discard())
	require.NoError(t, err)

	data := filepath.Join(root, "houses.csv")
	require.NoError(t, os.WriteFile(data, []byte("area,rooms,price\n50,2,100\n80,3,170\n120,4,260\n"), 0o644))
	return &fixture{engine: eng, runner: fr, history: store, metrics: m, data: data, snapshotDir: snapDir}
}

func TestAnalyzeProducesArtifacts(t *testing.T) {
	f := newFixture(t)
	run, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)

	assert.Equal(t, "price", run.Result.BestColumn)
	assert.Len(t, run.Result.Relations, 2)
	assert.Equal(t, "abc123", run.Revision)
	assert.Len(t, run.DatasetHash, 32)
	assert.False(t, run.Reused)
	assert.Contains(t, run.Summary, "### 🔍 Best column: `price`")
	assert.Contains(t, run.ProfileMarkdown, "File: houses.csv")
	assert.FileExists(t, run.ChartPath)
	assert.FileExists(t, run.PDFPath)

	dir, err := f.engine.RunDir(run.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(run.PDFPath), dir)

	entry, err := f.history.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusOK, entry.Status)
	assert.Equal(t, 2, entry.RelationCount)
	assert.Contains(t, scrape(t, f.metrics), `mpie_analyses_total{outcome="ok"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestAnalyzeReusesIdenticalDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.engine.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	second, err := f.engine.Analyze(ctx, Request{Path: f.data, Filename: "copy.csv"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.runner.calls.Load())
	assert.True(t, second.Reused)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Result.Relations, second.Result.Relations)
	assert.Contains(t, scrape(t, f.metrics), "mpie_result_reuse_total 1")
}

func TestAnalyzeWithoutReuseRunsEveryTime(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ReuseResults = false })
	for i := 0; i < 2; i++ {
		_, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), f.runner.calls.Load())
}

func TestAnalyzeNoRelationsSkipsChart(t *testing.T) {
	f := newFixture(t)
	f.runner.stdout = "Best column: y\nReward break-down: {'r': 1}\nTop relations:\n\n"
	run, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	assert.Empty(t, run.ChartPath)
	assert.FileExists(t, run.PDFPath)
}

func TestAnalyzeFailures(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		setup    func(*fixture)
		kind     string
	}{
		{"unsupported type", "houses.xlsx", nil, KindInput},
		{"script exit", "houses.csv", func(f *fixture) {
			f.runner.err = &runner.ExitError{Code: 1, Stderr: "Traceback: /secret/path"}
		}, KindScript},
		{"bad output", "houses.csv", func(f *fixture) { f.runner.stdout = "nothing useful" }, KindFormat},
		{"artifact", "houses.csv", func(f *fixture) {
			f.engine.deps.Snapshots = &fakeSnapshots{err: &artifact.Error{Repo: "owner/repo", Err: errors.New("offline")}}
		}, KindScript},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				tc.setup(f)
			}
			_, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: tc.filename})
			require.Error(t, err)
			assert.Equal(t, tc.kind, Kind(err))

			id := RunID(err)
			require.NotEmpty(t, id)
			entry, herr := f.history.Get(context.Background(), id)
			require.NoError(t, herr)
			assert.Equal(t, history.StatusFailed, entry.Status)
			assert.Equal(t, tc.kind, entry.ErrorKind)

			_, derr := f.engine.RunDir(id)
			assert.ErrorIs(t, derr, ErrUnknownRun)

			md := FailureMarkdown(err)
			assert.Contains(t, md, "### ❌ Analysis failed")
			assert.Contains(t, md, id)
			assert.NotContains(t, md, "/secret/path")
		})
	}
}

func TestAnalyzeInputErrorShowsDetail(t *testing.T) {
	f := newFixture(t)
	empty := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err := f.engine.Analyze(context.Background(), Request{Path: empty, Filename: "empty.csv"})
	require.Error(t, err)
	assert.Equal(t, KindInput, Kind(err))
	assert.Contains(t, FailureMarkdown(err), "file is empty")
	assert.Equal(t, int32(0), f.runner.calls.Load())
}

func TestAnalyzeLimitsConcurrency(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ReuseResults = false; o.MaxConcurrent = 1 })
	f.runner.hold = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return f.runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	close(f.runner.hold)
	wg.Wait()
	assert.Equal(t, int32(3), f.runner.calls.Load())
	assert.Equal(t, int32(1), f.runner.peak.Load())
}

func TestAnalyzeCanceledWhileQueued(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ReuseResults = false })
	f.runner.hold = make(chan struct{})
	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
	}()
	defer func() {
		close(f.runner.hold)
		<-first
	}()
	require.Eventually(t, func() bool { return f.runner.running.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.engine.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.Error(t, err)
	assert.Equal(t, KindCanceled, Kind(err))
	assert.Equal(t, int32(1), f.runner.calls.Load())
}

func TestRunDirRejectsBadIDs(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "../etc", "not-a-uuid", uuid.NewString()} {
		_, err := f.engine.RunDir(id)
		assert.ErrorIs(t, err, ErrUnknownRun, id)
	}
}

func TestSweepRemovesExpiredRuns(t *testing.T) {
	f := newFixture(t)
	run, err := f.engine.Analyze(context.Background(), Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	keep := filepath.Join(f.engine.opts.WorkDir, "notes")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	assert.Equal(t, 0, f.engine.Sweep(time.Now()))
	assert.Equal(t, 1, f.engine.Sweep(time.Now().Add(2*time.Hour)))
	_, err = f.engine.RunDir(run.ID)
	assert.ErrorIs(t, err, ErrUnknownRun)
	assert.DirExists(t, keep)
}

func TestJanitorStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.engine.Janitor(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		KindInput:    &RunError{RunID: "x", Err: &dataset.InputError{Reason: "empty"}},
		KindScript:   &runner.TimeoutError{After: time.Second},
		KindFormat:   &report.FormatError{Section: report.SectionReward, Reason: "missing"},
		KindCanceled: context.Canceled,
		KindInternal: errors.New("disk full"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err))
	}
	assert.Equal(t, "", Kind(nil))
	assert.True(t, strings.HasPrefix(UserMessage(cases[KindInput]), "empty"))
}

func TestAnalyzeForwardsFilesTheProfilerCannotRead(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()

	quoted := filepath.Join(dir, "heights.csv")
	require.NoError(t, os.WriteFile(quoted, []byte("name,height\nbob,5'10\"\nann,6'1\"\n"), 0o644))
	run, err := f.engine.Analyze(context.Background(), Request{Path: quoted, Filename: "heights.csv"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.runner.calls.Load())
	assert.Contains(t, run.ProfileMarkdown, "height")

	blank := filepath.Join(dir, "blank.csv")
	require.NoError(t, os.WriteFile(blank, []byte("\n\n"), 0o644))
	run, err = f.engine.Analyze(context.Background(), Request{Path: blank, Filename: "blank.csv"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.runner.calls.Load())
	assert.Nil(t, run.Profile)
	assert.Empty(t, run.ProfileMarkdown)
	assert.Equal(t, "price", run.Result.BestColumn)
}

func TestAnalyzeInvocationChangeForcesRun(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Invocation = []string{"python", "--fast"} })
	ctx := context.Background()
	_, err := f.engine.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)

	same, err := New(f.engine.opts, f.engine.deps, logging.Discard())
	require.NoError(t, err)
	run, err := same.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	assert.True(t, run.Reused)
	assert.Equal(t, int32(1), f.runner.calls.Load())

	opts := f.engine.opts
	opts.Invocation = []string{"python", "--thorough"}
	changed, err := New(opts, f.engine.deps, logging.Discard())
	require.NoError(t, err)
	run, err = changed.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	assert.False(t, run.Reused)
	assert.Equal(t, int32(2), f.runner.calls.Load())

	opts.ScriptName = "other.py"
	require.NoError(t, os.WriteFile(filepath.Join(f.snapshotDir, "other.py"), []byte("# stub\n"), 0o644))
	renamed, err := New(opts, f.engine.deps, logging.Discard())
	require.NoError(t, err)
	run, err = renamed.Analyze(ctx, Request{Path: f.data, Filename: "houses.csv"})
	require.NoError(t, err)
	assert.False(t, run.Reused)
	assert.Equal(t, int32(3), f.runner.calls.Load())
}

func TestAnalyzeInputErrorUsesUploadName(t *testing.T) {
	f := newFixture(t)
	tmp := filepath.Join(t.TempDir(), "upload-123456.csv")
	require.NoError(t, os.WriteFile(tmp, nil, 0o644))
	_, err := f.engine.Analyze(context.Background(), Request{Path: tmp, Filename: "survey.csv"})
	require.Error(t, err)
	msg := UserMessage(err)
	assert.Contains(t, msg, "survey.csv: file is empty")
	assert.NotContains(t, msg, "upload-123456")
}
