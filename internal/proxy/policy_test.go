package proxy

import "testing"

func newTestPolicy(explicit, system string) *Policy {
	p := NewPolicy(Config{ExplicitURL: explicit})
	p.systemProxy = func() string { return system }
	return p
}

func TestResolveMediaSourcePrecedence(t *testing.T) {
	t.Parallel()

	p := newTestPolicy("socks5://explicit:1080", "http://system:3128")
	if got := p.Resolve(ClassMediaSource); got == nil || got.URL != "socks5://explicit:1080" {
		t.Fatalf("explicit proxy must win, got %+v", got)
	}

	p = newTestPolicy("", "http://system:3128")
	if got := p.Resolve(ClassMediaSource); got == nil || got.URL != "http://system:3128" {
		t.Fatalf("system proxy must apply without explicit one, got %+v", got)
	}

	p = newTestPolicy("", "")
	if got := p.Resolve(ClassMediaSource); got != nil {
		t.Fatalf("expected direct connection, got %+v", got)
	}
}

func TestResolveStorageAndSpeechAlwaysDirect(t *testing.T) {
	t.Parallel()

	p := newTestPolicy("socks5://explicit:1080", "http://system:3128")
	for _, class := range []ServiceClass{ClassStorage, ClassSpeechLLM} {
		if got := p.Resolve(class); got != nil {
			t.Fatalf("%s must never resolve a proxy, got %+v", class, got)
		}
	}
}

func TestResolveChatTransportIgnoresSystemProxy(t *testing.T) {
	t.Parallel()

	p := newTestPolicy("", "http://system:3128")
	if got := p.Resolve(ClassChatTransport); got != nil {
		t.Fatalf("chat transport must ignore the system proxy, got %+v", got)
	}

	p = newTestPolicy("socks5://explicit:1080", "http://system:3128")
	if got := p.Resolve(ClassChatTransport); got == nil || got.URL != "socks5://explicit:1080" {
		t.Fatalf("chat transport must honor the explicit proxy, got %+v", got)
	}
}

func TestResolveDisableAllOverridesEverything(t *testing.T) {
	t.Parallel()

	p := newTestPolicy("socks5://explicit:1080", "http://system:3128")
	p.SetDisableAll(true)

	for _, class := range []ServiceClass{ClassMediaSource, ClassStorage, ClassSpeechLLM, ClassChatTransport} {
		if got := p.Resolve(class); got != nil {
			t.Fatalf("disable-all must force %s direct, got %+v", class, got)
		}
		if got := p.Resolve(class, WithForcedProxy("http://forced:8080")); got != nil {
			t.Fatalf("disable-all must beat a forced proxy for %s, got %+v", class, got)
		}
	}
}

func TestResolveForcedProxyOverridesClassRules(t *testing.T) {
	t.Parallel()

	p := newTestPolicy("", "")
	got := p.Resolve(ClassStorage, WithForcedProxy("http://forced:8080"))
	if got == nil || got.URL != "http://forced:8080" {
		t.Fatalf("forced proxy must override the class default, got %+v", got)
	}
}

func TestResolveIsNotCached(t *testing.T) {
	t.Parallel()

	system := "http://first:3128"
	p := NewPolicy(Config{})
	p.systemProxy = func() string { return system }

	if got := p.Resolve(ClassMediaSource); got == nil || got.URL != "http://first:3128" {
		t.Fatalf("unexpected first resolution: %+v", got)
	}

	system = "http://second:3128"
	if got := p.Resolve(ClassMediaSource); got == nil || got.URL != "http://second:3128" {
		t.Fatalf("resolution must reflect the current environment, got %+v", got)
	}

	p.SetExplicitURL("socks5://late:1080")
	if got := p.Resolve(ClassMediaSource); got == nil || got.URL != "socks5://late:1080" {
		t.Fatalf("runtime explicit proxy must take effect, got %+v", got)
	}
}
