package ytdlp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// Downloader fetches the best audio track of a video with the yt-dlp binary.
type Downloader struct {
	binPath      string
	downloadsDir string
	logger       *slog.Logger
}

var _ ports.Downloader = (*Downloader)(nil)

func NewDownloader(binPath, downloadsDir string, logger *slog.Logger) *Downloader {
	return &Downloader{
		binPath:      binPath,
		downloadsDir: downloadsDir,
		logger:       logger.With("component", "ytdlp"),
	}
}

// Download runs yt-dlp and returns the path of the written audio file. The
// proxy argument is resolved by the caller per call; nil means direct.
func (d *Downloader) Download(ctx context.Context, sourceURL string, proxyCfg *domain.ProxyConfig) (string, error) {
	if err := os.MkdirAll(d.downloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	args := []string{
		"-f", "bestaudio",
		"--no-playlist",
		"--no-simulate",
		"--print", "after_move:filepath",
		"-o", filepath.Join(d.downloadsDir, "%(id)s_%(epoch)s.%(ext)s"),
	}
	if proxyCfg != nil {
		args = append(args, "--proxy", proxyCfg.URL)
	}
	args = append(args, sourceURL)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.logger.Info("downloading audio", "url", sourceURL, "proxied", proxyCfg != nil)
	if err := cmd.Run(); err != nil {
		return "", classifyRunError(err, stderr.String())
	}

	path := lastLine(stdout.String())
	if path == "" {
		return "", fmt.Errorf("yt-dlp reported no output file")
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	d.logger.Info("audio downloaded", "path", path)
	return path, nil
}

// classifyRunError maps yt-dlp stderr output onto the error taxonomy so the
// pipeline can decide between retrying and failing outright.
func classifyRunError(runErr error, stderr string) error {
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "video unavailable"),
		strings.Contains(lowered, "private video"),
		strings.Contains(lowered, "this video is not available"),
		strings.Contains(lowered, "http error 404"),
		strings.Contains(lowered, "no video formats"):
		return fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, firstLine(stderr))
	case strings.Contains(lowered, "unable to download"),
		strings.Contains(lowered, "timed out"),
		strings.Contains(lowered, "connection re"),
		strings.Contains(lowered, "temporary failure"),
		strings.Contains(lowered, "network"):
		return fmt.Errorf("%w: %s", domain.ErrNetwork, firstLine(stderr))
	default:
		return fmt.Errorf("yt-dlp: %v: %s", runErr, firstLine(stderr))
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
