package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordGetRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(ctx, Entry{
			ID: id, Filename: id + ".csv", DatasetHash: "h" + id, Revision: "main",
			Status: StatusOK, BestColumn: "y", RelationCount: i, Stdout: "out",
			Duration: 1500 * time.Millisecond, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b.csv", got.Filename)
	assert.Equal(t, 1, got.RelationCount)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.True(t, got.CreatedAt.Equal(base.Add(time.Minute)))

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	_, err = s.Get(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindReusable(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Record(ctx, Entry{ID: "old", DatasetHash: "h", Revision: "r1", Status: StatusOK, Stdout: "first", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Record(ctx, Entry{ID: "new", DatasetHash: "h", Revision: "r1", Status: StatusOK, Stdout: "second", CreatedAt: now}))
	require.NoError(t, s.Record(ctx, Entry{ID: "fail", DatasetHash: "h2", Revision: "r1", Status: StatusFailed, ErrorKind: "script", Stdout: "junk", CreatedAt: now}))
	require.NoError(t, s.Record(ctx, Entry{ID: "args", DatasetHash: "h", Revision: "r1", RunKey: "k2", Status: StatusOK, Stdout: "third", CreatedAt: now.Add(time.Minute)}))

	e, ok, err := s.FindReusable(ctx, "h", "r1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", e.ID)
	assert.Equal(t, "second", e.Stdout)

	e, ok, err = s.FindReusable(ctx, "h", "r1", "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "args", e.ID)
	assert.Equal(t, "k2", e.RunKey)

	_, ok, err = s.FindReusable(ctx, "h", "r1", "k3")
	require.NoError(t, err)
	assert.False(t, ok, "different invocation must not be reused")

	_, ok, err = s.FindReusable(ctx, "h", "r2", "")
	require.NoError(t, err)
	assert.False(t, ok, "different revision must not be reused")

	_, ok, err = s.FindReusable(ctx, "h2", "r1", "")
	require.NoError(t, err)
	assert.False(t, ok, "failed runs must not be reused")

	failed, err := s.Get(ctx, "fail")
	require.NoError(t, err)
	assert.Empty(t, failed.Stdout)
	assert.Equal(t, "script", failed.ErrorKind)
}

func TestRecordDuplicateID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	e := Entry{ID: "x", Status: StatusOK}
	require.NoError(t, s.Record(ctx, e))
	assert.Error(t, s.Record(ctx, e))
}

func TestOpenAddsRunKeyToOlderDatabases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    dataset_hash TEXT NOT NULL,
    revision TEXT NOT NULL,
    status TEXT NOT NULL,
    error_kind TEXT NOT NULL DEFAULT '',
    best_column TEXT NOT NULL DEFAULT '',
    relation_count INTEGER NOT NULL DEFAULT 0,
    stdout TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    reused INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
INSERT INTO runs (id, filename, dataset_hash, revision, status, stdout, created_at)
VALUES ('legacy', 'a.csv', 'h', 'r1', 'ok', 'out', 1);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	e, ok, err := s.FindReusable(ctx, "h", "r1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "legacy", e.ID)

	_, ok, err = s.FindReusable(ctx, "h", "r1", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
