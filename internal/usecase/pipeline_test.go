package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/proxy"
)

type fakeSubtitles struct {
	text  string
	lang  string
	err   error
	calls int
}

func (f *fakeSubtitles) Extract(_ context.Context, _ string, _ *domain.ProxyConfig) (string, string, error) {
	f.calls++
	return f.text, f.lang, f.err
}

type fakeDownloader struct {
	path     string
	errs     []error
	calls    int
	proxySet []bool
}

func (f *fakeDownloader) Download(_ context.Context, _ string, p *domain.ProxyConfig) (string, error) {
	f.calls++
	f.proxySet = append(f.proxySet, p != nil)
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return "", f.errs[f.calls-1]
	}
	return f.path, nil
}

type fakeStorage struct {
	refURL  string
	key     string
	err     error
	deleted []string
}

func (f *fakeStorage) Upload(_ context.Context, _ string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.refURL, f.key, nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSummarizer struct {
	summary string
	err     error
	errs    []error
	calls   int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.errs) >= f.calls && f.errs[f.calls-1] != nil {
		return "", f.errs[f.calls-1]
	}
	return f.summary, nil
}

type fakeResults struct {
	path string
}

func (f *fakeResults) SaveResult(_, _, _, prefix string) (string, error) {
	return fmt.Sprintf("%s/%s.txt", f.path, prefix), nil
}

type pipelineFixture struct {
	subtitles   *fakeSubtitles
	downloader  *fakeDownloader
	storage     *fakeStorage
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	pipeline    *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		subtitles:   &fakeSubtitles{},
		downloader:  &fakeDownloader{path: "/tmp/audio.m4a"},
		storage:     &fakeStorage{refURL: "https://bucket/audio", key: "audio_1.m4a"},
		transcriber: &fakeTranscriber{text: "spoken words"},
		summarizer:  &fakeSummarizer{summary: "the gist"},
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Subtitles:   f.subtitles,
		Downloader:  f.downloader,
		Storage:     f.storage,
		Transcriber: f.transcriber,
		Summarizer:  f.summarizer,
		Results:     &fakeResults{path: "results"},
		Proxies:     proxy.NewPolicy(proxy.Config{}),
		Retry:       RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1},
	})
	return f
}

func newRequest(mode domain.Mode) domain.PipelineRequest {
	return domain.PipelineRequest{
		ID:        "req-1",
		UserID:    "42",
		SourceURL: "https://www.youtube.com/watch?v=abcdefghijk",
		Mode:      mode,
		CreatedAt: time.Now(),
	}
}

func collectStages(events *[]domain.ProgressEvent) func(domain.ProgressEvent) {
	return func(ev domain.ProgressEvent) {
		*events = append(*events, ev)
	}
}

func stageNames(events []domain.ProgressEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Stage
	}
	return out
}

func equalStages(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunCaptionHitSkipsAudioChain(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "caption text"
	f.subtitles.lang = "en"

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v (%v)", result.Status, result.Err)
	}
	if f.downloader.calls != 0 || f.transcriber.calls != 0 {
		t.Fatalf("audio chain ran on caption hit: downloads=%d transcribes=%d", f.downloader.calls, f.transcriber.calls)
	}
	if result.Summary != "the gist" {
		t.Fatalf("expected summary, got %q", result.Summary)
	}
	if result.Artifacts[0].Kind != domain.ArtifactCaptionText || result.Artifacts[0].Text != "caption text" {
		t.Fatalf("expected caption artifact first, got %+v", result.Artifacts[0])
	}
	if !equalStages(stageNames(events), "try_subtitle", "summarize", "done") {
		t.Fatalf("unexpected stage order: %v", stageNames(events))
	}
	if !events[len(events)-1].Terminal {
		t.Fatalf("last event must be terminal")
	}
}

func TestRunCaptionMissFallsBackToAudio(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v (%v)", result.Status, result.Err)
	}
	if f.downloader.calls != 1 || f.transcriber.calls != 1 {
		t.Fatalf("fallback chain did not run: downloads=%d transcribes=%d", f.downloader.calls, f.transcriber.calls)
	}
	if !equalStages(stageNames(events), "try_subtitle", "acquire_audio", "upload", "transcribe", "summarize", "done") {
		t.Fatalf("unexpected stage order: %v", stageNames(events))
	}
	if result.Artifacts[0].Kind != domain.ArtifactTranscriptText {
		t.Fatalf("expected transcript artifact first, got %+v", result.Artifacts[0])
	}
	if len(f.storage.deleted) != 1 || f.storage.deleted[0] != "audio_1.m4a" {
		t.Fatalf("staged object not cleaned up: %v", f.storage.deleted)
	}
}

func TestRunEmptyCaptionsCountAsMiss(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "   \n  "

	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), nil)

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v", result.Status)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("whitespace captions must fall back to transcription")
	}
}

func TestRunForceAudioSkipsCaptionCheck(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "caption text"

	req := newRequest(domain.ModeSummarize)
	req.ForceAudio = true
	result := f.pipeline.Run(context.Background(), req, nil)

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v", result.Status)
	}
	if f.subtitles.calls != 0 {
		t.Fatalf("caption check ran despite force audio")
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("expected transcription to run")
	}
}

func TestRunSkipSummaryDeliversRawText(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "caption text"

	req := newRequest(domain.ModeSummarize)
	req.SkipSummary = true
	result := f.pipeline.Run(context.Background(), req, nil)

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v", result.Status)
	}
	if f.summarizer.calls != 0 {
		t.Fatalf("summarizer ran despite skip")
	}
	if result.Summary != "" || result.Text() != "caption text" {
		t.Fatalf("expected raw text only, got summary=%q text=%q", result.Summary, result.Text())
	}
}

func TestRunSourceUnavailableFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.downloader.errs = []error{
		fmt.Errorf("%w: video unavailable", domain.ErrSourceUnavailable),
		nil, nil,
	}

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failure, got %v", result.Status)
	}
	if f.downloader.calls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", f.downloader.calls)
	}
	if result.Err == nil || result.Err.Kind != domain.KindSourceUnavailable {
		t.Fatalf("unexpected error info: %+v", result.Err)
	}
	last := events[len(events)-1]
	if !last.Terminal || last.Stage != "failed" {
		t.Fatalf("expected terminal failed event, got %+v", last)
	}
}

func TestRunNetworkErrorRetriesAndReplaysStageEvent(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.downloader.errs = []error{
		fmt.Errorf("%w: connection reset", domain.ErrNetwork),
		nil,
	}

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusOK {
		t.Fatalf("expected recovery, got %v (%v)", result.Status, result.Err)
	}
	if f.downloader.calls != 2 {
		t.Fatalf("expected 2 download attempts, got %d", f.downloader.calls)
	}

	acquires := 0
	for _, ev := range events {
		if ev.Stage == "acquire_audio" {
			acquires++
		}
	}
	if acquires != 2 {
		t.Fatalf("expected acquire event per attempt, got %d", acquires)
	}
}

func TestRunSummarizeFailureKeepsText(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "caption text"
	f.summarizer.err = errors.New("model exploded")

	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), nil)

	if result.Status != domain.StatusOK {
		t.Fatalf("summarize failure must not fail the run, got %v", result.Status)
	}
	if result.Summary != "" {
		t.Fatalf("expected no summary, got %q", result.Summary)
	}
	if result.SummaryErr == nil || result.SummaryErr.Kind != domain.KindSummarization {
		t.Fatalf("unexpected summary error info: %+v", result.SummaryErr)
	}
	if result.Text() != "caption text" {
		t.Fatalf("acquired text lost: %q", result.Text())
	}
}

func TestRunSummarizeRetryReplaysStageEvent(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.subtitles.text = "caption text"
	f.summarizer.errs = []error{fmt.Errorf("flaky model: %w", domain.ErrNetwork)}

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusOK || result.Summary != "the gist" {
		t.Fatalf("expected recovered summary, got %v %q", result.Status, result.Summary)
	}
	if !equalStages(stageNames(events), "try_subtitle", "summarize", "summarize", "done") {
		t.Fatalf("retry must replay the summarize event: %v", stageNames(events))
	}
	if events[2].Message != "generating the summary (attempt 2)" {
		t.Fatalf("unexpected retry message: %q", events[2].Message)
	}
}

func TestRunCaptionMissWithoutTranscriptionBackend(t *testing.T) {
	t.Parallel()

	downloader := &fakeDownloader{path: "/tmp/audio.m4a"}
	p := NewPipeline(PipelineDeps{
		Subtitles:  &fakeSubtitles{},
		Downloader: downloader,
		Summarizer: &fakeSummarizer{summary: "the gist"},
		Proxies:    proxy.NewPolicy(proxy.Config{}),
		Retry:      RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1},
	})

	var events []domain.ProgressEvent
	result := p.Run(context.Background(), newRequest(domain.ModeSummarize), collectStages(&events))

	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failure without storage and transcriber, got %v", result.Status)
	}
	if result.Err == nil || result.Err.Kind != domain.KindTranscription {
		t.Fatalf("unexpected error info: %+v", result.Err)
	}
	if downloader.calls != 0 {
		t.Fatalf("nothing should be downloaded when it cannot be transcribed, got %d calls", downloader.calls)
	}
	if !equalStages(stageNames(events), "try_subtitle", "failed") {
		t.Fatalf("unexpected stage order: %v", stageNames(events))
	}
	if !events[len(events)-1].Terminal {
		t.Fatalf("last event must be terminal")
	}
}

func TestRunEmptyTranscriptFails(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	f.transcriber.text = "   "

	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeSummarize), nil)

	if result.Status != domain.StatusFailed {
		t.Fatalf("expected failure on empty transcript, got %v", result.Status)
	}
	if result.Err == nil || result.Err.Kind != domain.KindTranscription {
		t.Fatalf("unexpected error info: %+v", result.Err)
	}
}

func TestRunDownloadModeStopsAfterAcquire(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()

	var events []domain.ProgressEvent
	result := f.pipeline.Run(context.Background(), newRequest(domain.ModeDownload), collectStages(&events))

	if result.Status != domain.StatusOK {
		t.Fatalf("expected ok, got %v", result.Status)
	}
	if f.subtitles.calls != 0 || f.transcriber.calls != 0 || f.summarizer.calls != 0 {
		t.Fatalf("download mode must only acquire")
	}
	if len(result.Artifacts) != 1 || result.Artifacts[0].Kind != domain.ArtifactMediaFile {
		t.Fatalf("expected single media artifact, got %+v", result.Artifacts)
	}
	if result.Artifacts[0].Ref != "/tmp/audio.m4a" {
		t.Fatalf("unexpected media path: %s", result.Artifacts[0].Ref)
	}
}
