package tester

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/urlutil"
)

// NetworkTester watches every sub-resource request the page makes and
// reports failed responses (status >= 400) and requests that never completed.
type NetworkTester struct {
	cfg    Config
	logger logging.Logger
}

func NewNetworkTester(cfg Config, logger logging.Logger) *NetworkTester {
	return &NetworkTester{cfg: cfg.withDefaults(), logger: logger}
}

func (t *NetworkTester) Type() model.DefectType { return model.TypeNetworkError }

// requestInfo remembers what we know about an in-flight request so the
// loading-failed event, which only carries a request id, can be described.
type requestInfo struct {
	method string
	url    string
}

func (t *NetworkTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	var mu sync.Mutex
	requests := map[network.RequestID]requestInfo{}
	var defects []model.Defect

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			mu.Lock()
			requests[e.RequestID] = requestInfo{method: e.Request.Method, url: e.Request.URL}
			mu.Unlock()
		case *network.EventResponseReceived:
			mu.Lock()
			info := requests[e.RequestID]
			mu.Unlock()
			if info.url == "" {
				info = requestInfo{method: "GET", url: e.Response.URL}
			}
			if d, ok := responseDefect(pageURL, info.method, info.url, int(e.Response.Status)); ok {
				mu.Lock()
				defects = append(defects, d)
				mu.Unlock()
			}
		case *network.EventLoadingFailed:
			if e.Canceled {
				return
			}
			mu.Lock()
			info, known := requests[e.RequestID]
			mu.Unlock()
			if !known {
				return
			}
			if d, ok := failedRequestDefect(pageURL, info.method, info.url, e.ErrorText); ok {
				mu.Lock()
				defects = append(defects, d)
				mu.Unlock()
			}
		}
	})

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("network tester: navigating to %s: %w", pageURL, err)
	}

	// Let in-flight requests finish.
	browser.Settle(tabCtx, t.cfg.SettleLong)

	mu.Lock()
	defer mu.Unlock()
	return defects, nil
}

// sameResource reports whether a sub-resource URL is actually the page
// itself (the document request is not a sub-resource failure).
func sameResource(pageURL, resourceURL string) bool {
	if pageURL == resourceURL {
		return true
	}
	np, errP := urlutil.Normalize(pageURL)
	nr, errR := urlutil.Normalize(resourceURL)
	return errP == nil && errR == nil && np == nr
}

// urlPath returns the path component of raw, falling back to raw itself.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}

// responseDefect classifies a completed response: status >= 500 is critical,
// 400-499 a warning; the page's own document and noise URLs are skipped.
func responseDefect(pageURL, method, resourceURL string, status int) (model.Defect, bool) {
	if status < 400 || sameResource(pageURL, resourceURL) || matchesAny(resourceURL, requestNoise) {
		return model.Defect{}, false
	}

	severity := model.SeverityWarning
	kind := "Client error"
	if status >= 500 {
		severity = model.SeverityCritical
		kind = "Server error"
	}

	return model.Defect{
		Type:     model.TypeNetworkError,
		Severity: severity,
		Title:    fmt.Sprintf("%s %d on %s", kind, status, urlPath(resourceURL)),
		Details:  fmt.Sprintf("%s %s returned %d", method, resourceURL, status),
		Page:     pageURL,
	}, true
}

// failedRequestDefect describes a request that never got a response (DNS
// failure, connection reset, ...).
func failedRequestDefect(pageURL, method, resourceURL, errorText string) (model.Defect, bool) {
	if resourceURL == "" || sameResource(pageURL, resourceURL) || matchesAny(resourceURL, requestNoise) {
		return model.Defect{}, false
	}
	if errorText == "" {
		errorText = "unknown error"
	}
	return model.Defect{
		Type:     model.TypeNetworkError,
		Severity: model.SeverityCritical,
		Title:    "Request failed: " + urlPath(resourceURL),
		Details:  fmt.Sprintf("%s %s failed: %s", method, resourceURL, errorText),
		Page:     pageURL,
	}, true
}
