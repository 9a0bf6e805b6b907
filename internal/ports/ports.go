package ports

import (
	"context"

	"TubeDigest/internal/domain"
)

// Downloader acquires the audio track of a remote video onto local disk.
// Implementations wrap failures in domain.ErrNetwork (transient) or
// domain.ErrSourceUnavailable (permanent).
type Downloader interface {
	Download(ctx context.Context, sourceURL string, proxy *domain.ProxyConfig) (localPath string, err error)
}

// SubtitleExtractor attempts the cheap caption path. An empty text with a nil
// error is a miss, not a failure.
type SubtitleExtractor interface {
	Extract(ctx context.Context, sourceURL string, proxy *domain.ProxyConfig) (text, language string, err error)
}

// Storage pushes local media to durable object storage and hands back a URL
// the transcriber can read.
type Storage interface {
	Upload(ctx context.Context, localPath string) (refURL, objectKey string, err error)
	Delete(ctx context.Context, objectKey string) error
}

// Transcriber turns a stored audio reference into text.
type Transcriber interface {
	Transcribe(ctx context.Context, refURL string) (string, error)
}

// Summarizer condenses caption or transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ChatModel continues an open-ended conversation given the accumulated turns.
type ChatModel interface {
	Converse(ctx context.Context, history []domain.ChatTurn) (string, error)
}

// Transport is the chat-facing delivery surface (Telegram in production).
type Transport interface {
	SendMessage(ctx context.Context, userID, text string) (domain.MessageHandle, error)
	EditMessage(ctx context.Context, handle domain.MessageHandle, text string) error
	SendFile(ctx context.Context, userID, path, caption string) error
}

// ResultWriter stores the transcript and summary of a finished run in the
// local results directory and returns the written path.
type ResultWriter interface {
	SaveResult(text, summary, source, prefix string) (string, error)
}

// HistoryRepository persists finished runs for audit and the admin surface.
type HistoryRepository interface {
	SaveRun(ctx context.Context, rec domain.RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}
