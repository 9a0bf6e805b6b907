package resultstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"TubeDigest/internal/ports"
)

// Store writes finished transcripts and summaries as plain text files the
// bot can hand back to the user.
type Store struct {
	dir    string
	logger *slog.Logger
}

var _ ports.ResultWriter = (*Store)(nil)

func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger.With("component", "results")}
}

// SaveResult writes one result file named <prefix>_<timestamp>.txt and
// returns its path. The source URL and the summary, when present, head the
// file before the full text.
func (s *Store) SaveResult(text, summary, source, prefix string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.txt", prefix, time.Now().Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	var b strings.Builder
	b.WriteString("Source: " + source + "\n")
	if summary != "" {
		b.WriteString("\n== Summary ==\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	b.WriteString("\n== Full text ==\n")
	b.WriteString(text)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write result file: %w", err)
	}
	s.logger.Info("result saved", "path", path)
	return path, nil
}

// Cleaner sweeps working directories for files a crashed or interrupted run
// left behind.
type Cleaner struct {
	dirs   []string
	maxAge time.Duration
	logger *slog.Logger
}

func NewCleaner(dirs []string, maxAge time.Duration, logger *slog.Logger) *Cleaner {
	return &Cleaner{dirs: dirs, maxAge: maxAge, logger: logger.With("component", "cleanup")}
}

// Sweep deletes files older than maxAge and prunes directories that end up
// empty. Missing directories are skipped silently.
func (c *Cleaner) Sweep() {
	cutoff := time.Now().Add(-c.maxAge)
	for _, dir := range c.dirs {
		removed := c.sweepDir(dir, cutoff)
		if removed > 0 {
			c.logger.Info("stale files removed", "dir", dir, "count", removed)
		}
	}
}

func (c *Cleaner) sweepDir(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cannot read dir", "dir", dir, "error", err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			removed += c.sweepDir(path, cutoff)
			if rest, err := os.ReadDir(path); err == nil && len(rest) == 0 {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				c.logger.Warn("cannot remove stale file", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed
}
