// Package artifact keeps a local copy of the model repository that ships the
// analysis script, downloading it from a Hugging Face style hub once and
// reusing it afterwards.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnsafePath rejects remote file names that would escape the cache.
var ErrUnsafePath = errors.New("unsafe file name in repository")

// Fetch outcomes passed to Options.Observe.
const (
	OutcomeCached     = "cached"
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
)

// Error wraps any failure to provide the snapshot.
type Error struct {
	Repo string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch %s: %v", e.Repo, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	Endpoint    string
	Repo        string
	Revision    string
	Token       string
	CacheDir    string
	Verify      bool
	Timeout     time.Duration
	Concurrency int
	Client      *http.Client
	// Observe, when set, is told the outcome of every Ensure/Refresh.
	Observe func(outcome string)
}

// Fetcher provides the snapshot. It is safe for concurrent use; concurrent
// callers share one in-flight fetch.
type Fetcher struct {
	opts   Options
	client *http.Client
	log    logrus.FieldLogger
	group  singleflight.Group
}

func New(opts Options, log logrus.FieldLogger) (*Fetcher, error) {
	if opts.Repo == "" || opts.CacheDir == "" {
		return nil, errors.New("artifact: repo and cache dir are required")
	}
	if opts.Revision == "" {
		opts.Revision = "main"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "https://huggingface.co"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{
		opts:   opts,
		client: client,
		log:    log.WithFields(logrus.Fields{"component": "artifact", "repo": opts.Repo}),
	}, nil
}

// RepoDir is where snapshots of the configured repository live.
func (f *Fetcher) RepoDir() string {
	return filepath.Join(f.opts.CacheDir, "models--"+strings.ReplaceAll(f.opts.Repo, "/", "--"))
}

func (f *Fetcher) manifestPath() string { return filepath.Join(f.RepoDir(), manifestName) }

// Cached returns the cached snapshot if it matches the configured repo and
// revision and its files are intact. It never touches the network.
func (f *Fetcher) Cached() (*Snapshot, error) {
	s, err := readManifest(f.manifestPath())
	if err != nil {
		return nil, err
	}
	if s.Repo != f.opts.Repo || s.Revision != f.opts.Revision {
		return nil, fmt.Errorf("cached snapshot is %s@%s", s.Repo, s.Revision)
	}
	s.Dir = f.snapshotDir(s.Commit)
	if err := s.intact(f.opts.Verify); err != nil {
		return nil, err
	}
	return s, nil
}

// Ensure returns the snapshot, downloading it only when no valid cached copy
// exists.
func (f *Fetcher) Ensure(ctx context.Context) (*Snapshot, error) {
	return f.shared(ctx, "ensure", false)
}

// Refresh downloads the repository again regardless of the cache.
func (f *Fetcher) Refresh(ctx context.Context) (*Snapshot, error) {
	return f.shared(ctx, "refresh", true)
}

func (f *Fetcher) shared(ctx context.Context, key string, force bool) (*Snapshot, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		// The fetch outlives any single caller so that waiting callers are
		// not failed by the first one giving up.
		fctx := context.WithoutCancel(ctx)
		if f.opts.Timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, f.opts.Timeout)
			defer cancel()
		}
		return f.fetch(fctx, force)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (f *Fetcher) observe(outcome string) {
	if f.opts.Observe != nil {
		f.opts.Observe(outcome)
	}
}

func (f *Fetcher) fetch(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		s, err := f.Cached()
		if err == nil {
			f.log.WithField("commit", s.Commit).Debug("using cached snapshot")
			f.observe(OutcomeCached)
			return s, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			f.log.WithError(err).Info("cached snapshot unusable, downloading again")
		}
	}
	s, err := f.download(ctx)
	if err != nil {
		f.observe(OutcomeFailed)
		return nil, &Error{Repo: f.opts.Repo, Err: err}
	}
	f.observe(OutcomeDownloaded)
	return s, nil
}

func (f *Fetcher) snapshotDir(commit string) string {
	return filepath.Join(f.RepoDir(), "snapshots", commit)
}

func (f *Fetcher) download(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	commit, names, err := f.listRepo(ctx)
	if err != nil {
		return nil, err
	}
	if !filepath.IsLocal(commit) {
		return nil, fmt.Errorf("%w: commit %q", ErrUnsafePath, commit)
	}
	dir := f.snapshotDir(commit)

	entries := make([]FileEntry, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			e, err := f.fetchFile(gctx, commit, name, dir)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Dir:       dir,
		Repo:      f.opts.Repo,
		Revision:  f.opts.Revision,
		Commit:    commit,
		FetchedAt: time.Now().UTC(),
		Files:     entries,
	}
	if err := writeManifest(f.manifestPath(), s); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	f.pruneSnapshots(commit)
	f.log.WithFields(logrus.Fields{
		"commit":   commit,
		"files":    len(entries),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("model snapshot downloaded")
	return s, nil
}

// pruneSnapshots removes snapshot directories other than keep.
func (f *Fetcher) pruneSnapshots(keep string) {
	root := filepath.Join(f.RepoDir(), "snapshots")
	ents, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range ents {
		if e.IsDir() && e.Name() != keep {
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				f.log.WithError(err).Warn("remove stale snapshot")
			}
		}
	}
}
