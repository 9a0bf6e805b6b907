package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
)

// languagePreference orders caption languages from most to least wanted.
var languagePreference = []string{"zh-Hans", "zh-CN", "zh", "en"}

// formatPreference orders caption formats by how reliably they parse.
var formatPreference = []string{"json3", "vtt", "ttml"}

// SubtitleExtractor pulls existing caption tracks from a video via yt-dlp
// metadata, preferring manually authored tracks over automatic ones. An
// empty result with a nil error means the video simply has no usable track.
type SubtitleExtractor struct {
	binPath string
	logger  *slog.Logger
}

var _ ports.SubtitleExtractor = (*SubtitleExtractor)(nil)

func NewSubtitleExtractor(binPath string, logger *slog.Logger) *SubtitleExtractor {
	return &SubtitleExtractor{
		binPath: binPath,
		logger:  logger.With("component", "subtitles"),
	}
}

type captionTrack struct {
	Ext string `json:"ext"`
	URL string `json:"url"`
}

type videoMetadata struct {
	Subtitles         map[string][]captionTrack `json:"subtitles"`
	AutomaticCaptions map[string][]captionTrack `json:"automatic_captions"`
}

// Extract fetches video metadata, picks the best caption track, downloads it
// and returns plain text. The proxy applies both to the metadata call and to
// the track download.
func (e *SubtitleExtractor) Extract(ctx context.Context, sourceURL string, proxyCfg *domain.ProxyConfig) (string, string, error) {
	meta, err := e.fetchMetadata(ctx, sourceURL, proxyCfg)
	if err != nil {
		return "", "", err
	}

	track, language, ok := pickTrack(meta)
	if !ok {
		return "", "", nil
	}

	raw, err := fetchTrack(ctx, track.URL, proxyCfg)
	if err != nil {
		return "", "", err
	}

	text, err := parseTrack(track.Ext, raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %s captions: %w", track.Ext, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", "", nil
	}
	e.logger.Info("captions extracted", "language", language, "format", track.Ext, "chars", len(text))
	return text, language, nil
}

func (e *SubtitleExtractor) fetchMetadata(ctx context.Context, sourceURL string, proxyCfg *domain.ProxyConfig) (*videoMetadata, error) {
	args := []string{"-J", "--skip-download", "--no-playlist"}
	if proxyCfg != nil {
		args = append(args, "--proxy", proxyCfg.URL)
	}
	args = append(args, sourceURL)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyRunError(err, stderr.String())
	}

	var meta videoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("decode video metadata: %w", err)
	}
	return &meta, nil
}

// pickTrack chooses the best available caption track: preferred languages in
// order, manual tracks before automatic ones, preferred formats in order.
func pickTrack(meta *videoMetadata) (captionTrack, string, bool) {
	for _, lang := range languagePreference {
		for _, tracks := range []map[string][]captionTrack{meta.Subtitles, meta.AutomaticCaptions} {
			if track, ok := pickFormat(tracks[lang]); ok {
				return track, lang, true
			}
		}
	}
	return captionTrack{}, "", false
}

func pickFormat(tracks []captionTrack) (captionTrack, bool) {
	for _, ext := range formatPreference {
		for _, t := range tracks {
			if t.Ext == ext && t.URL != "" {
				return t, true
			}
		}
	}
	return captionTrack{}, false
}

func fetchTrack(ctx context.Context, trackURL string, proxyCfg *domain.ProxyConfig) ([]byte, error) {
	transport := &http.Transport{}
	if proxyCfg != nil {
		parsed, err := url.Parse(proxyCfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}
	client := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch captions: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch captions: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func parseTrack(ext string, raw []byte) (string, error) {
	switch ext {
	case "json3":
		return parseJSON3(raw)
	case "vtt":
		return parseVTT(raw), nil
	case "ttml":
		return parseTTML(raw)
	default:
		return "", fmt.Errorf("unsupported caption format %q", ext)
	}
}

// parseJSON3 reads YouTube's json3 caption events.
func parseJSON3(raw []byte) (string, error) {
	var doc struct {
		Events []struct {
			Segs []struct {
				UTF8 string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, ev := range doc.Events {
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
	}
	return normalizeCaptionText(b.String()), nil
}

// parseVTT keeps cue payload lines and drops the header, timestamps and cue
// identifiers.
func parseVTT(raw []byte) string {
	var lines []string
	var last string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || line == "WEBVTT":
			continue
		case strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "Kind:") || strings.HasPrefix(line, "Language:"):
			continue
		case strings.Contains(line, "-->"):
			continue
		}
		line = stripCueTags(line)
		if line == "" || line == last {
			continue
		}
		lines = append(lines, line)
		last = line
	}
	return strings.Join(lines, "\n")
}

// stripCueTags removes inline <c>, <i> and timestamp tags from a cue line.
func stripCueTags(line string) string {
	var b strings.Builder
	inTag := false
	for _, r := range line {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseTTML extracts the text of every <p> cue from a TTML document.
func parseTTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	var lines []string
	var last string
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		line := strings.TrimSpace(sel.Text())
		if line == "" || line == last {
			return
		}
		lines = append(lines, line)
		last = line
	})
	return strings.Join(lines, "\n"), nil
}

func normalizeCaptionText(s string) string {
	var lines []string
	var last string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line == "" || line == last {
			continue
		}
		lines = append(lines, line)
		last = line
	}
	return strings.Join(lines, "\n")
}
