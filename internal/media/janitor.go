package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
)

// Janitor removes stale files from the download directory on a cron
// schedule. Files normally go away right after use; this catches the ones
// orphaned by a crash.
type Janitor struct {
	dir      string
	schedule string
	maxAge   time.Duration
	now      func() time.Time
}

// NewJanitor validates schedule, a five-field cron expression.
func NewJanitor(dir, schedule string, maxAge time.Duration) (*Janitor, error) {
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("media: invalid janitor schedule %q", schedule)
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Janitor{dir: dir, schedule: schedule, maxAge: maxAge, now: time.Now}, nil
}

// Run sweeps at every tick of the schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	for {
		next, err := gronx.NextTickAfter(j.schedule, j.now(), false)
		if err != nil {
			return fmt.Errorf("media: next tick: %w", err)
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		n, err := j.Sweep()
		if err != nil {
			slog.Warn("media: sweep failed", "dir", j.dir, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("media: removed stale files", "dir", j.dir, "count", n)
		}
	}
}

// Sweep removes regular files older than maxAge and returns how many.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
