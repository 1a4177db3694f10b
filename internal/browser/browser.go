// Package browser wraps chromedp with the small surface the pipeline needs:
// one headless browser process per Session (a scan starts one for its crawl
// and another for its test phase), cheap tab creation for testers, and a
// network-idle wait used after navigation.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/logging"
)

// Session owns a single headless browser process. Tabs created from it share
// the process but get their own target, so listeners attached to one tab do
// not observe another tab's traffic.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc

	browserCtx    context.Context
	browserCancel context.CancelFunc

	logger logging.Logger
}

// NewSession launches a headless browser. The returned Session must be
// Closed by the caller on every exit path.
func NewSession(ctx context.Context, logger logging.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1280, 800),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so launch failures surface here
	// instead of inside the first tester.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	logger.Debug("browser session started")

	return &Session{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// NewPage opens a fresh tab. The cancel func closes the tab and must be
// called on all exit paths.
func (s *Session) NewPage(parent context.Context) (context.Context, context.CancelFunc) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)

	// Tie the tab to the caller's deadline: when parent expires, tear the
	// tab down so a hung navigation cannot outlive its budget.
	stop := context.AfterFunc(parent, tabCancel)

	return tabCtx, func() {
		stop()
		tabCancel()
	}
}

// Close tears down the browser process.
func (s *Session) Close() {
	s.browserCancel()
	s.allocCancel()
	s.logger.Debug("browser session closed")
}

// idleTracker counts in-flight network requests and closes its channel once
// none have been active for the quiet period.
type idleTracker struct {
	quiet time.Duration

	mu       sync.Mutex
	inFlight int
	timer    *time.Timer
	done     bool
	idle     chan struct{}
}

func newIdleTracker(quiet time.Duration) *idleTracker {
	t := &idleTracker{quiet: quiet, idle: make(chan struct{})}
	t.mu.Lock()
	t.arm()
	t.mu.Unlock()
	return t
}

// arm (re)starts the quiet timer. Caller holds mu.
func (t *idleTracker) arm() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.inFlight == 0 && !t.done {
			t.done = true
			close(t.idle)
		}
	})
}

// request records a request going out.
func (t *idleTracker) request() {
	t.mu.Lock()
	t.inFlight++
	t.mu.Unlock()
}

// settled records a request finishing or failing; the quiet timer restarts
// once nothing is in flight.
func (t *idleTracker) settled() {
	t.mu.Lock()
	if t.inFlight > 0 {
		t.inFlight--
	}
	if t.inFlight == 0 {
		t.arm()
	}
	t.mu.Unlock()
}

// NetworkIdle watches a tab's network traffic and returns a channel that
// closes once no request has been in flight for quiet. Attach before
// navigating so the initial request burst is counted; bound the wait with a
// select, since a chatty page may never go idle.
func NetworkIdle(ctx context.Context, quiet time.Duration) <-chan struct{} {
	tracker := newIdleTracker(quiet)

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			tracker.request()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			tracker.settled()
		}
	})

	return tracker.idle
}

// Settle blocks for d or until ctx is done. Testers use it to give async
// errors and late resources a moment to fire after navigation.
func Settle(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
