package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"TubeDigest/internal/domain"
	"TubeDigest/internal/ports"
	"TubeDigest/internal/proxy"
)

// Stage names one discrete step of the content pipeline.
type Stage string

const (
	StageTrySubtitle Stage = "try_subtitle"
	StageAcquire     Stage = "acquire_audio"
	StageUpload      Stage = "upload"
	StageTranscribe  Stage = "transcribe"
	StageSummarize   Stage = "summarize"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// PipelineDeps wires the collaborators into the fallback chain. Storage and
// Transcriber may be nil when the audio fallback is not configured; a request
// that needs them then fails with a transcription error.
type PipelineDeps struct {
	Subtitles   ports.SubtitleExtractor
	Downloader  ports.Downloader
	Storage     ports.Storage
	Transcriber ports.Transcriber
	Summarizer  ports.Summarizer
	Results     ports.ResultWriter
	Proxies     *proxy.Policy
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// Pipeline executes the fallback-chained acquisition flow: try existing
// captions first, fall back to download + upload + transcription, then
// summarize. One Pipeline instance serves all requests; per-run state lives
// on the stack of Run.
type Pipeline struct {
	subtitles   ports.SubtitleExtractor
	downloader  ports.Downloader
	storage     ports.Storage
	transcriber ports.Transcriber
	summarizer  ports.Summarizer
	results     ports.ResultWriter
	proxies     *proxy.Policy
	retry       RetryPolicy
	logger      *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	return &Pipeline{
		subtitles:   deps.Subtitles,
		downloader:  deps.Downloader,
		storage:     deps.Storage,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
		results:     deps.Results,
		proxies:     deps.Proxies,
		retry:       deps.Retry,
		logger:      logger,
	}
}

// nextStage is the pure transition function of the state machine. ok reports
// whether the current stage succeeded; for TRY_SUBTITLE a miss (empty text)
// counts as not ok and falls through to acquisition.
func nextStage(current Stage, ok bool, req domain.PipelineRequest) Stage {
	switch current {
	case StageTrySubtitle:
		if ok {
			return afterText(req)
		}
		return StageAcquire
	case StageAcquire:
		if ok {
			return StageUpload
		}
		return StageFailed
	case StageUpload:
		if ok {
			return StageTranscribe
		}
		return StageFailed
	case StageTranscribe:
		if ok {
			return afterText(req)
		}
		return StageFailed
	case StageSummarize:
		return StageDone
	default:
		return StageFailed
	}
}

func afterText(req domain.PipelineRequest) Stage {
	if req.SkipSummary {
		return StageDone
	}
	return StageSummarize
}

// Run drives one request to DONE or FAILED. Progress events are emitted in
// stage order, exactly one before each stage's call (replayed per retry
// attempt), plus one terminal event. The emit callback may be nil.
func (p *Pipeline) Run(ctx context.Context, req domain.PipelineRequest, emit func(domain.ProgressEvent)) domain.PipelineResult {
	log := p.logger.With("request_id", req.ID, "user_id", req.UserID)
	log.Info("pipeline run starting", "mode", req.Mode, "url", req.SourceURL)

	if req.Mode == domain.ModeDownload {
		return p.runDownload(ctx, req, emit, log)
	}
	return p.runSummarize(ctx, req, emit, log)
}

// runDownload acquires the media and stops: the raw file is the artifact.
func (p *Pipeline) runDownload(ctx context.Context, req domain.PipelineRequest, emit func(domain.ProgressEvent), log *slog.Logger) domain.PipelineResult {
	result := domain.PipelineResult{RequestID: req.ID}

	localPath, err := p.acquire(ctx, req, emit)
	if err != nil {
		return p.fail(req, StageAcquire, err, emit, log)
	}

	result.Status = domain.StatusOK
	result.Artifacts = append(result.Artifacts, domain.Artifact{Kind: domain.ArtifactMediaFile, Ref: localPath})
	p.finish(req, &result, emit, log)
	return result
}

func (p *Pipeline) runSummarize(ctx context.Context, req domain.PipelineRequest, emit func(domain.ProgressEvent), log *slog.Logger) domain.PipelineResult {
	result := domain.PipelineResult{RequestID: req.ID}

	var (
		text     string
		textKind domain.ArtifactKind
	)

	stage := StageTrySubtitle
	if req.ForceAudio {
		stage = StageAcquire
	}

	for stage != StageDone && stage != StageFailed {
		switch stage {
		case StageTrySubtitle:
			p.emitStage(req, StageTrySubtitle, "checking the video for existing captions", emit)
			captions, language, err := p.subtitles.Extract(ctx, req.SourceURL, p.proxies.Resolve(proxy.ClassMediaSource))
			ok := err == nil && strings.TrimSpace(captions) != ""
			if err != nil {
				log.Warn("subtitle extraction failed, falling back to audio", "error", err)
			} else if !ok {
				log.Info("no captions available, falling back to audio")
			}
			if ok {
				text = captions
				textKind = domain.ArtifactCaptionText
				log.Info("captions extracted", "language", language, "chars", len(captions))
			}
			stage = nextStage(stage, ok, req)

		case StageAcquire:
			if p.storage == nil || p.transcriber == nil {
				log.Error("audio fallback unavailable",
					"storage_configured", p.storage != nil, "transcriber_configured", p.transcriber != nil)
				return p.fail(req, StageAcquire, fmt.Errorf("transcription backend not configured: %w", domain.ErrTranscription), emit, log)
			}
			localPath, err := p.acquire(ctx, req, emit)
			if err != nil {
				return p.fail(req, StageAcquire, err, emit, log)
			}
			stage = nextStage(stage, true, req)

			refURL, objectKey, err := p.upload(ctx, req, localPath, emit)
			if err != nil {
				return p.fail(req, StageUpload, err, emit, log)
			}
			stage = nextStage(StageUpload, true, req)
			result.Artifacts = append(result.Artifacts, domain.Artifact{Kind: domain.ArtifactRemoteAudio, Ref: refURL})

			transcript, err := p.transcribe(ctx, req, refURL, objectKey, emit)
			if err != nil {
				return p.fail(req, StageTranscribe, err, emit, log)
			}
			text = transcript
			textKind = domain.ArtifactTranscriptText
			stage = nextStage(StageTranscribe, true, req)

		case StageSummarize:
			summary, err := p.summarize(ctx, req, text, emit)
			if err != nil {
				// The acquired text survives a summarization failure.
				log.Warn("summarization failed, delivering raw text", "error", err)
				result.SummaryErr = domain.Capture(fmt.Errorf("%w: %w", domain.ErrSummarization, err))
			} else {
				result.Summary = summary
			}
			stage = nextStage(StageSummarize, err == nil, req)
		}
	}

	result.Status = domain.StatusOK
	result.Artifacts = append([]domain.Artifact{{Kind: textKind, Text: text}}, result.Artifacts...)

	if p.results != nil && text != "" {
		prefix := "transcription"
		if textKind == domain.ArtifactCaptionText {
			prefix = "subtitle"
		}
		if path, err := p.results.SaveResult(text, result.Summary, req.SourceURL, prefix); err != nil {
			log.Warn("result file not saved", "error", err)
		} else {
			result.Artifacts = append(result.Artifacts, domain.Artifact{Kind: domain.ArtifactResultFile, Ref: path})
		}
	}

	p.finish(req, &result, emit, log)
	return result
}

func (p *Pipeline) acquire(ctx context.Context, req domain.PipelineRequest, emit func(domain.ProgressEvent)) (string, error) {
	var localPath string
	err := p.retry.Do(ctx, func(attempt int) error {
		p.emitStage(req, StageAcquire, attemptMessage("downloading the audio track", attempt), emit)
		path, err := p.downloader.Download(ctx, req.SourceURL, p.proxies.Resolve(proxy.ClassMediaSource))
		if err != nil {
			return err
		}
		localPath = path
		return nil
	})
	return localPath, err
}

func (p *Pipeline) upload(ctx context.Context, req domain.PipelineRequest, localPath string, emit func(domain.ProgressEvent)) (string, string, error) {
	var refURL, objectKey string
	err := p.retry.Do(ctx, func(attempt int) error {
		p.emitStage(req, StageUpload, attemptMessage("uploading the audio for transcription", attempt), emit)
		ref, key, err := p.storage.Upload(ctx, localPath)
		if err != nil {
			return err
		}
		refURL, objectKey = ref, key
		return nil
	})
	return refURL, objectKey, err
}

func (p *Pipeline) transcribe(ctx context.Context, req domain.PipelineRequest, refURL, objectKey string, emit func(domain.ProgressEvent)) (string, error) {
	var transcript string
	err := p.retry.Do(ctx, func(attempt int) error {
		p.emitStage(req, StageTranscribe, attemptMessage("transcribing the audio", attempt), emit)
		text, err := p.transcriber.Transcribe(ctx, refURL)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("empty transcript: %w", domain.ErrTranscription)
		}
		transcript = text
		return nil
	})

	// The stored object is only needed while the transcriber reads it.
	if objectKey != "" {
		if delErr := p.storage.Delete(ctx, objectKey); delErr != nil {
			p.logger.Warn("temporary audio object not deleted", "object", objectKey, "error", delErr)
		}
	}
	return transcript, err
}

func (p *Pipeline) summarize(ctx context.Context, req domain.PipelineRequest, text string, emit func(domain.ProgressEvent)) (string, error) {
	var summary string
	err := p.retry.Do(ctx, func(attempt int) error {
		p.emitStage(req, StageSummarize, attemptMessage("generating the summary", attempt), emit)
		s, err := p.summarizer.Summarize(ctx, text)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})
	return summary, err
}

func (p *Pipeline) fail(req domain.PipelineRequest, stage Stage, err error, emit func(domain.ProgressEvent), log *slog.Logger) domain.PipelineResult {
	info := domain.Capture(err)
	log.Error("pipeline run failed", "stage", stage, "kind", info.Kind, "error", err)
	p.emitEvent(req, StageFailed, info.Message, true, emit)
	return domain.PipelineResult{RequestID: req.ID, Status: domain.StatusFailed, Err: info}
}

func (p *Pipeline) finish(req domain.PipelineRequest, result *domain.PipelineResult, emit func(domain.ProgressEvent), log *slog.Logger) {
	message := "processing complete"
	if result.SummaryErr != nil {
		message = "processing complete, but " + result.SummaryErr.Message
	}
	log.Info("pipeline run finished", "artifacts", len(result.Artifacts), "has_summary", result.Summary != "")
	p.emitEvent(req, StageDone, message, true, emit)
}

func (p *Pipeline) emitStage(req domain.PipelineRequest, stage Stage, message string, emit func(domain.ProgressEvent)) {
	p.emitEvent(req, stage, message, false, emit)
}

func (p *Pipeline) emitEvent(req domain.PipelineRequest, stage Stage, message string, terminal bool, emit func(domain.ProgressEvent)) {
	if emit == nil {
		return
	}
	emit(domain.ProgressEvent{
		RequestID: req.ID,
		UserID:    req.UserID,
		Stage:     string(stage),
		Message:   message,
		At:        time.Now(),
		Terminal:  terminal,
	})
}

func attemptMessage(base string, attempt int) string {
	if attempt <= 1 {
		return base
	}
	return fmt.Sprintf("%s (attempt %d)", base, attempt)
}
