package domain

import "errors"

// Sentinel failures collaborators wrap their errors around. Pipeline stages
// decide retry and fallback behavior with errors.Is against these.
var (
	ErrNetwork           = errors.New("network failure")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrQuota             = errors.New("quota exceeded")
	ErrTranscription     = errors.New("transcription failed")
	ErrSummarization     = errors.New("summarization failed")
	ErrBusy              = errors.New("a request is already being processed")
)

// ErrorKind is the coarse classification surfaced to users.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindQuota             ErrorKind = "quota"
	KindTranscription     ErrorKind = "transcription"
	KindSummarization     ErrorKind = "summarization"
	KindBusy              ErrorKind = "busy"
	KindInternal          ErrorKind = "internal"
)

// ErrorInfo is the only error shape that crosses component boundaries.
type ErrorInfo struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// KindOf maps an error chain onto an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrQuota):
		return KindQuota
	case errors.Is(err, ErrTranscription):
		return KindTranscription
	case errors.Is(err, ErrSummarization):
		return KindSummarization
	case errors.Is(err, ErrBusy):
		return KindBusy
	default:
		return KindInternal
	}
}

// Capture folds a collaborator error into an ErrorInfo. Raw errors never
// reach the user; the human message is derived from the kind.
func Capture(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	return &ErrorInfo{
		Kind:      kind,
		Message:   humanMessage(kind),
		Retryable: kind == KindNetwork,
	}
}

func humanMessage(kind ErrorKind) string {
	switch kind {
	case KindNetwork:
		return "a network problem interrupted processing, please try again later"
	case KindSourceUnavailable:
		return "the video could not be accessed; it may be private or removed"
	case KindQuota:
		return "a service quota was exhausted for this request"
	case KindTranscription:
		return "the audio could not be transcribed"
	case KindSummarization:
		return "the summary could not be generated"
	case KindBusy:
		return "still processing your previous request, please wait for it to finish"
	default:
		return "an internal error interrupted processing"
	}
}
