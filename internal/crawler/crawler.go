// Package crawler discovers same-origin pages reachable from a seed URL by
// breadth-first link following in a headless browser.
package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/sourcegraph/conc/pool"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/urlutil"
)

// Config bounds a crawl.
type Config struct {
	MaxPages       int
	MaxConcurrency int
	NavTimeout     time.Duration
	HandlerTimeout time.Duration
}

// DefaultConfig returns the crawl bounds used when the caller does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxPages:       20,
		MaxConcurrency: 3,
		NavTimeout:     15 * time.Second,
		HandlerTimeout: 30 * time.Second,
	}
}

const (
	// networkQuiet is how long the network must stay silent after load
	// before a page is considered settled.
	networkQuiet = 500 * time.Millisecond

	// maxIdleWait caps the post-navigation settle on pages that never go
	// quiet (polling scripts, long-lived trackers).
	maxIdleWait = 2 * time.Second
)

// ProgressFunc receives crawl progress as a 0-100 percent plus a
// human-readable message.
type ProgressFunc func(progress int, message string)

// Crawler walks a site breadth-first with a bounded worker pool. It owns its
// browser session for the duration of a Crawl call.
type Crawler struct {
	cfg    Config
	logger logging.Logger
}

// New creates a Crawler. Zero-value config fields fall back to defaults.
func New(cfg Config, logger logging.Logger) *Crawler {
	def := DefaultConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = def.NavTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	return &Crawler{cfg: cfg, logger: logger}
}

// crawlState is the shared frontier bookkeeping, guarded by mu.
type crawlState struct {
	mu      sync.Mutex
	visited map[string]bool
	added   map[string]bool
	pages   []model.PageRecord
	next    []string
}

// Crawl discovers pages starting at seed. It fails only when the seed itself
// cannot be loaded; every other load failure is logged and skipped.
func (c *Crawler) Crawl(ctx context.Context, seed string, onProgress ProgressFunc) ([]model.PageRecord, error) {
	if onProgress == nil {
		onProgress = func(int, string) {}
	}

	seedURL, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parsing seed url %s: %w", seed, err)
	}
	normSeed, err := urlutil.Normalize(seed)
	if err != nil {
		return nil, fmt.Errorf("normalizing seed url %s: %w", seed, err)
	}

	session, err := browser.NewSession(ctx, c.logger)
	if err != nil {
		return nil, fmt.Errorf("starting crawl browser: %w", err)
	}
	defer session.Close()

	st := &crawlState{
		visited: map[string]bool{normSeed: true},
		added:   map[string]bool{},
	}

	// The seed is loaded synchronously: its failure is the only fatal one.
	page, hrefs, err := c.loadPage(ctx, session, normSeed)
	if err != nil {
		return nil, fmt.Errorf("loading seed page: %w", err)
	}
	c.recordPage(st, seedURL, page, hrefs, onProgress)

	frontier := st.next
	st.next = nil

	for len(frontier) > 0 {
		st.mu.Lock()
		full := len(st.pages) >= c.cfg.MaxPages
		st.mu.Unlock()
		if full || ctx.Err() != nil {
			break
		}

		p := pool.New().WithMaxGoroutines(c.cfg.MaxConcurrency)
		for _, target := range frontier {
			target := target
			p.Go(func() {
				st.mu.Lock()
				full := len(st.pages) >= c.cfg.MaxPages
				st.mu.Unlock()
				if full || ctx.Err() != nil {
					return
				}

				page, hrefs, err := c.loadPage(ctx, session, target)
				if err != nil {
					// Visited-but-dropped: the URL stays in the visited set
					// so it is never retried.
					c.logger.Warn("crawl page load failed",
						logging.Field{Key: "url", Value: target},
						logging.Field{Key: "error", Value: err.Error()})
					return
				}
				c.recordPage(st, seedURL, page, hrefs, onProgress)
			})
		}
		p.Wait()

		st.mu.Lock()
		frontier = st.next
		st.next = nil
		st.mu.Unlock()
	}

	onProgress(100, fmt.Sprintf("Found %d page(s)", len(st.pages)))
	return st.pages, nil
}

// recordPage appends a loaded page (keyed by its normalized final URL) and
// enqueues its followable links.
func (c *Crawler) recordPage(st *crawlState, seedURL *url.URL, page model.PageRecord, hrefs []string, onProgress ProgressFunc) {
	base, err := url.Parse(page.URL)
	if err != nil {
		base = seedURL
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.added[page.URL] && len(st.pages) < c.cfg.MaxPages {
		st.added[page.URL] = true
		st.visited[page.URL] = true
		st.pages = append(st.pages, page)
		onProgress(progressPercent(len(st.pages), c.cfg.MaxPages),
			fmt.Sprintf("Found %d page(s)", len(st.pages)))
	}

	for _, href := range hrefs {
		normalized, ok := urlutil.ShouldFollow(seedURL, base, href)
		if !ok || st.visited[normalized] {
			continue
		}
		st.visited[normalized] = true
		st.next = append(st.next, normalized)
	}
}

// progressPercent maps pages found so far onto 0-90; the closing 100 event is
// emitted once the frontier is exhausted.
func progressPercent(found, maxPages int) int {
	p := 90 * found / maxPages
	if p > 90 {
		p = 90
	}
	return p
}

// loadPage navigates a fresh tab to target and returns the page record (with
// normalized final URL, title and load time) plus the raw hrefs found on it.
func (c *Crawler) loadPage(ctx context.Context, session *browser.Session, target string) (model.PageRecord, []string, error) {
	var pr model.PageRecord

	handlerCtx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	tabCtx, tabCancel := session.NewPage(handlerCtx)
	defer tabCancel()

	// Attached before navigation so the initial request burst is counted.
	idle := browser.NetworkIdle(tabCtx, networkQuiet)

	navCtx, navCancel := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer navCancel()

	start := time.Now()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return pr, nil, fmt.Errorf("navigating to %s: %w", target, err)
	}
	loadMs := time.Since(start).Milliseconds()

	// Let scripts finish injecting links; a chatty page is cut off rather
	// than allowed to eat the handler budget.
	select {
	case <-idle:
	case <-time.After(maxIdleWait):
	case <-handlerCtx.Done():
	}

	var title, finalURL, pageHTML string
	if err := chromedp.Run(tabCtx,
		chromedp.Title(&title),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &pageHTML),
	); err != nil {
		return pr, nil, fmt.Errorf("reading page %s: %w", target, err)
	}

	normFinal, err := urlutil.Normalize(finalURL)
	if err != nil {
		normFinal = target
	}

	pr = model.PageRecord{
		URL:        normFinal,
		Title:      title,
		LoadTimeMs: loadMs,
	}
	return pr, extractHrefs(pageHTML), nil
}

// extractHrefs pulls every anchor href attribute out of rendered HTML.
func extractHrefs(pageHTML string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}
