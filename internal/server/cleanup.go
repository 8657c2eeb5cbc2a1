package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	scratchSweepInterval = 15 * time.Minute

	// scratchMaxAge is how long a scratch file may go unmodified before it is
	// treated as left behind by a crashed or abandoned upload. Active uploads
	// keep touching their file.
	scratchMaxAge = time.Hour
)

// RunScratchSweeper removes stale scratch files now and then every
// scratchSweepInterval until ctx is done.
func (s *Server) RunScratchSweeper(ctx context.Context) {
	ticker := time.NewTicker(scratchSweepInterval)
	defer ticker.Stop()

	s.sweepScratch(time.Now().Add(-scratchMaxAge))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepScratch(time.Now().Add(-scratchMaxAge))
		}
	}
}

// sweepScratch deletes *.part files in the scratch directory last modified
// before cutoff and returns how many were removed.
func (s *Server) sweepScratch(cutoff time.Time) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		s.logger.Warn("scratch sweep: read dir", "dir", s.tempDir, "err", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(s.tempDir, e.Name())
		if err := os.Remove(p); err != nil {
			s.logger.Warn("scratch sweep: remove", "path", p, "err", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("scratch sweep", "removed", removed)
	}
	return removed
}
