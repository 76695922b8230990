package fetcher

import (
	"strings"
	"testing"
	"time"

	"deepresearch/internal/config"
)

func defaultTestConfig() config.FetcherConfig {
	return config.FetcherConfig{
		Headless:       true,
		LoadTimeout:    time.Second,
		IdleTimeout:    time.Second,
		ViewportWidth:  1280,
		ViewportHeight: 800,
	}
}

func TestExtractTextStripsChrome(t *testing.T) {
	page := `<!DOCTYPE html>
<html>
<head><title>Wheat Yields Study</title><script>track()</script></head>
<body>
  <nav class="main-nav"><a href="/">Home</a><a href="/about">About</a></nav>
  <div class="ads-banner">Buy now!</div>
  <article>
    <h1>Climate effects</h1>
    <p>Wheat yields decline by 6% per degree of warming.</p>
    <p>Irrigated regions show smaller losses.</p>
  </article>
  <footer>Copyright 2026</footer>
</body>
</html>`

	title, text := ExtractText(page)
	if title != "Wheat Yields Study" {
		t.Errorf("title = %q", title)
	}
	if !strings.Contains(text, "decline by 6%") {
		t.Errorf("main text missing: %q", text)
	}
	for _, chrome := range []string{"Home", "Buy now", "Copyright", "track()"} {
		if strings.Contains(text, chrome) {
			t.Errorf("chrome %q leaked into text: %q", chrome, text)
		}
	}
}

func TestExtractTextBlockBreaks(t *testing.T) {
	_, text := ExtractText(`<html><body><p>first</p><p>second</p></body></html>`)
	if text != "first\nsecond" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractTextMalformed(t *testing.T) {
	_, text := ExtractText(`<p>unclosed <b>bold text`)
	if !strings.Contains(text, "unclosed") || !strings.Contains(text, "bold text") {
		t.Errorf("malformed html should extract best-effort: %q", text)
	}
}

func TestUAPoolRotates(t *testing.T) {
	p := newUAPool()
	seen := map[string]bool{}
	for i := 0; i < len(userAgents); i++ {
		seen[p.next()] = true
	}
	if len(seen) != len(userAgents) {
		t.Errorf("rotation covered %d of %d user agents", len(seen), len(userAgents))
	}
}

func TestDelayWithinBounds(t *testing.T) {
	p := newUAPool()
	min, max := 500*time.Millisecond, 2*time.Second
	for i := 0; i < 100; i++ {
		d := p.delay(min, max)
		if d < min || d > max {
			t.Fatalf("delay %s outside [%s, %s]", d, min, max)
		}
	}
}

func TestPerHostSlotIsExclusive(t *testing.T) {
	f := New(defaultTestConfig())

	release, err := f.acquireHost(t.Context(), "example.com")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Second acquire on the same host must block until release.
	done := make(chan struct{})
	go func() {
		r2, err := f.acquireHost(t.Context(), "example.com")
		if err == nil {
			r2()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second acquire did not block")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never proceeded after release")
	}
}

func TestDifferentHostsDoNotBlock(t *testing.T) {
	f := New(defaultTestConfig())

	release, err := f.acquireHost(t.Context(), "a.example.com")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	r2, err := f.acquireHost(t.Context(), "b.example.com")
	if err != nil {
		t.Fatalf("acquire other host: %v", err)
	}
	r2()
}
