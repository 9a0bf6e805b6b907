package domain

import "time"

// Mode selects what a pipeline run produces for the user.
type Mode string

const (
	ModeDownload  Mode = "download"
	ModeSummarize Mode = "summarize"
)

// PipelineRequest describes one piece of work against a video source.
// It is immutable once created and owned by the run it triggers.
type PipelineRequest struct {
	ID          string
	UserID      string
	SourceURL   string
	Mode        Mode
	ForceAudio  bool
	SkipSummary bool
	CreatedAt   time.Time
}

// ResultStatus is the terminal outcome of a pipeline run.
type ResultStatus string

const (
	StatusOK     ResultStatus = "ok"
	StatusFailed ResultStatus = "failed"
)

// ArtifactKind distinguishes the references a run leaves behind.
type ArtifactKind string

const (
	ArtifactCaptionText    ArtifactKind = "caption_text"
	ArtifactTranscriptText ArtifactKind = "transcript_text"
	ArtifactMediaFile      ArtifactKind = "media_file"
	ArtifactResultFile     ArtifactKind = "result_file"
	ArtifactRemoteAudio    ArtifactKind = "remote_audio"
)

// Artifact is one produced file or reference descriptor. Text carries the
// inline payload for caption/transcript artifacts; Ref is a path or URL.
type Artifact struct {
	Kind ArtifactKind
	Ref  string
	Text string
}

// PipelineResult is produced exactly once per request and not mutated after
// hand-off.
type PipelineResult struct {
	RequestID string
	Status    ResultStatus
	Artifacts []Artifact
	Summary   string
	// Err is set on StatusFailed. SummaryErr records a non-fatal
	// summarization failure on an otherwise successful run.
	Err        *ErrorInfo
	SummaryErr *ErrorInfo
}

// Text returns the caption or transcript payload of the result, if any.
func (r PipelineResult) Text() string {
	for _, a := range r.Artifacts {
		if a.Kind == ArtifactCaptionText || a.Kind == ArtifactTranscriptText {
			return a.Text
		}
	}
	return ""
}

// ProgressEvent is one advisory update on a running request. Events for a
// request form an append-only, stage-ordered stream.
type ProgressEvent struct {
	RequestID string
	UserID    string
	Stage     string
	Message   string
	At        time.Time
	Terminal  bool
}

// RunRecord is the persisted trace of a finished pipeline run.
type RunRecord struct {
	ID        string
	UserID    string
	SourceURL string
	Mode      Mode
	Status    ResultStatus
	Summary   string
	Error     string
	CreatedAt time.Time
}
