package fetcher

import (
	"math/rand"
	"sync"
	"time"
)

// stealthJS masks the automation flag before any page script runs.
const stealthJS = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] });
`

// userAgents is the fixed rotation pool. Current desktop strings; the set
// matters less than not presenting a headless default.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
}

// uaPool rotates user agents round-robin from a random start.
type uaPool struct {
	mu   sync.Mutex
	idx  int
	rand *rand.Rand
}

func newUAPool() *uaPool {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &uaPool{idx: r.Intn(len(userAgents)), rand: r}
}

func (p *uaPool) next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ua := userAgents[p.idx%len(userAgents)]
	p.idx++
	return ua
}

// delay picks a randomized per-page delay in [min, max].
func (p *uaPool) delay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rand.Int63n(int64(max-min)))
}
