package source

import (
	"fmt"
	"regexp"
)

// Recognizer captures a single video-host strategy (YouTube, etc.) able to
// pull a canonical source URL out of free-form message text.
type Recognizer interface {
	Name() string
	Extract(text string) (url string, ok bool)
}

// Registry keeps recognizers in registration order and returns the first hit.
type Registry struct {
	recognizers []Recognizer
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a recognizer strategy.
func (r *Registry) Register(rec Recognizer) {
	r.recognizers = append(r.recognizers, rec)
}

// Extract returns the canonical URL of the first recognizer that matches.
func (r *Registry) Extract(text string) (string, bool) {
	for _, rec := range r.recognizers {
		if url, ok := rec.Extract(text); ok {
			return url, true
		}
	}
	return "", false
}

// Default returns a registry with the built-in recognizers.
func Default() *Registry {
	r := NewRegistry()
	r.Register(YouTube{})
	return r
}

var youtubeExpr = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com/(?:watch\?v=|embed/|v/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

// YouTube recognizes youtube.com and youtu.be links in any of the common
// shapes and canonicalizes them to a watch URL.
type YouTube struct{}

// Name identifies the strategy inside the registry.
func (YouTube) Name() string { return "youtube" }

// Extract pulls the first video ID out of the text.
func (YouTube) Extract(text string) (string, bool) {
	m := youtubeExpr.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", m[1]), true
}
