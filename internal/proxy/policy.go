// Package proxy decides, per external service class, whether outbound calls
// traverse a proxy. Resolution happens at call time so a runtime "disable
// proxies" toggle takes effect on the very next call.
package proxy

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"TubeDigest/internal/domain"
)

// ServiceClass names a group of endpoints with a shared proxy posture.
type ServiceClass string

const (
	ClassMediaSource   ServiceClass = "media_source"
	ClassStorage       ServiceClass = "storage"
	ClassSpeechLLM     ServiceClass = "speech_llm"
	ClassChatTransport ServiceClass = "chat_transport"
)

// Config carries the operator-provided proxy settings.
type Config struct {
	// ExplicitURL, when set, is used for classes that honor proxying.
	ExplicitURL string
	// DisableAll forces direct connections for every class.
	DisableAll bool
}

// Policy maps service classes to effective proxy configurations.
type Policy struct {
	explicitURL atomic.Pointer[string]
	disableAll  atomic.Bool
	// systemProxy is swappable in tests; defaults to reading the
	// HTTP(S)_PROXY environment on every call.
	systemProxy func() string
}

// NewPolicy builds a policy from static configuration.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{systemProxy: systemProxyFromEnv}
	p.explicitURL.Store(&cfg.ExplicitURL)
	p.disableAll.Store(cfg.DisableAll)
	return p
}

// SetDisableAll flips the global kill switch; it applies to the next call.
func (p *Policy) SetDisableAll(disabled bool) {
	p.disableAll.Store(disabled)
}

// SetExplicitURL replaces the configured proxy at runtime.
func (p *Policy) SetExplicitURL(rawURL string) {
	p.explicitURL.Store(&rawURL)
}

// Option adjusts one resolution.
type Option func(*resolution)

type resolution struct {
	forced string
}

// WithForcedProxy overrides the class default for a single call. The global
// disable flag still wins.
func WithForcedProxy(rawURL string) Option {
	return func(r *resolution) { r.forced = rawURL }
}

// Resolve returns the proxy to use for the given class, or nil for a direct
// connection. Nothing is cached between calls.
func (p *Policy) Resolve(class ServiceClass, opts ...Option) *domain.ProxyConfig {
	if p == nil || p.disableAll.Load() {
		return nil
	}

	var res resolution
	for _, opt := range opts {
		opt(&res)
	}
	if res.forced != "" {
		return &domain.ProxyConfig{URL: res.forced}
	}

	explicit := ""
	if v := p.explicitURL.Load(); v != nil {
		explicit = *v
	}

	switch class {
	case ClassMediaSource:
		// Media sources are commonly geo-restricted; honor whatever
		// proxy the operator or the host environment provides.
		if explicit != "" {
			return &domain.ProxyConfig{URL: explicit}
		}
		if sys := p.systemProxy(); sys != "" {
			return &domain.ProxyConfig{URL: sys}
		}
		return nil
	case ClassStorage, ClassSpeechLLM:
		// These endpoints break behind SOCKS proxies; always go direct
		// unless a caller forces otherwise.
		return nil
	case ClassChatTransport:
		if explicit != "" {
			return &domain.ProxyConfig{URL: explicit}
		}
		return nil
	default:
		return nil
	}
}

// HTTPClient returns a client whose proxy is re-resolved on every request.
func (p *Policy) HTTPClient(class ServiceClass, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: func(*http.Request) (*url.URL, error) {
			pc := p.Resolve(class)
			if pc == nil {
				return nil, nil
			}
			return url.Parse(pc.URL)
		},
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func systemProxyFromEnv() string {
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
