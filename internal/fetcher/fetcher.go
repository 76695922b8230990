// Package fetcher retrieves full page content with a headless browser
// configured for stealth, and reduces it to main text. A failed fetch is
// reported, never fatal: the caller records an access failure and keeps
// the entity's snippet.
package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// Result is the outcome of one page fetch.
type Result struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Fetcher owns one detached browser instance and serializes fetches per
// host (per-host concurrency cap of 1).
type Fetcher struct {
	cfg config.FetcherConfig

	mu      sync.Mutex
	browser *rod.Browser
	cleanup func()
	hosts   map[string]chan struct{}

	ua *uaPool
}

// New creates a fetcher. The browser launches lazily on first fetch so
// construction never fails in environments without Chrome.
func New(cfg config.FetcherConfig) *Fetcher {
	return &Fetcher{
		cfg:   cfg,
		hosts: make(map[string]chan struct{}),
		ua:    newUAPool(),
	}
}

// Fetch loads the URL, waits for load + network idle, and extracts the
// main text. The per-host slot and a randomized human-like delay are
// applied before navigation.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	timer := logging.StartTimer(logging.CategoryFetcher, "Fetch")
	defer timer.Stop()

	html, err := f.FetchHTML(ctx, rawURL)
	if err != nil {
		return Result{URL: rawURL}, err
	}

	title, text := ExtractText(html)
	logging.FetcherDebug("fetched %s: %d chars of text", rawURL, len(text))
	return Result{URL: rawURL, Title: title, Text: text}, nil
}

// FetchHTML loads the URL with the full stealth setup and returns the
// rendered HTML. Crawling callers parse the markup themselves.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	host := types.HostOf(rawURL)
	if host == "" {
		return "", fmt.Errorf("unfetchable url %q", rawURL)
	}

	release, err := f.acquireHost(ctx, host)
	if err != nil {
		return "", err
	}
	defer release()

	if err := sleepContext(ctx, f.ua.delay(f.cfg.MinDelay, f.cfg.MaxDelay)); err != nil {
		return "", err
	}

	browser, err := f.ensureBrowser()
	if err != nil {
		return "", fmt.Errorf("browser unavailable: %w", err)
	}

	page, err := f.newStealthPage(browser)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	loadCtx, cancel := context.WithTimeout(ctx, f.cfg.LoadTimeout)
	defer cancel()

	if err := page.Context(loadCtx).Navigate(rawURL); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		return "", fmt.Errorf("page load timed out: %w", err)
	}
	// Network idle is best-effort; heavy pages keep polling forever.
	_ = page.WaitIdle(f.cfg.IdleTimeout)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		_ = f.browser.Close()
		f.browser = nil
	}
	if f.cleanup != nil {
		f.cleanup()
		f.cleanup = nil
	}
}

func (f *Fetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(f.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-infobars").
		NoSandbox(true)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	f.browser = browser
	f.cleanup = l.Cleanup
	logging.Fetcher("headless browser launched (headless=%v)", f.cfg.Headless)
	return browser, nil
}

func (f *Fetcher) newStealthPage(browser *rod.Browser) (*rod.Page, error) {
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}

	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		_ = page.Close()
		return nil, err
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.ua.next()}); err != nil {
		_ = page.Close()
		return nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             f.cfg.ViewportWidth,
		Height:            f.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// acquireHost takes the single per-host slot, waiting if another fetch to
// the same host is in flight.
func (f *Fetcher) acquireHost(ctx context.Context, host string) (func(), error) {
	f.mu.Lock()
	slot, ok := f.hosts[host]
	if !ok {
		slot = make(chan struct{}, 1)
		f.hosts[host] = slot
	}
	f.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
