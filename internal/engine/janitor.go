package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Janitor removes expired run directories every interval until ctx ends.
func (e *Engine) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || e.opts.RunTTL <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := e.Sweep(e.now()); n > 0 {
				e.log.WithField("removed", n).Debug("expired runs removed")
			}
		}
	}
}

// Sweep deletes run directories last modified before now minus the TTL and
// returns how many it removed. Entries that are not run directories are
// left alone.
func (e *Engine) Sweep(now time.Time) int {
	if e.opts.RunTTL <= 0 {
		return 0
	}
	ents, err := os.ReadDir(e.opts.WorkDir)
	if err != nil {
		e.log.WithError(err).Warn("read work dir")
		return 0
	}
	cutoff := now.Add(-e.opts.RunTTL)
	removed := 0
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		if _, err := uuid.Parse(ent.Name()); err != nil {
			continue
		}
		info, err := ent.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(e.opts.WorkDir, ent.Name())); err != nil {
			e.log.WithError(err).WithField("run_id", ent.Name()).Warn("remove expired run")
			continue
		}
		removed++
	}
	return removed
}
