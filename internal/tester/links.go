package tester

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/urlutil"
)

// LinkTester collects every anchor on the page and probes each unique target
// with a HEAD-then-GET check. Only confidently broken targets become
// defects; uncertain results are dropped to avoid false positives.
type LinkTester struct {
	cfg    Config
	logger logging.Logger
	client *http.Client
}

func NewLinkTester(cfg Config, logger logging.Logger) *LinkTester {
	cfg = cfg.withDefaults()
	return &LinkTester{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.LinkTimeout},
	}
}

func (t *LinkTester) Type() model.DefectType { return model.TypeBrokenLink }

// Hosts known to reject automated HEAD/GET probes; checking them would only
// produce false positives.
var botBlockedHosts = []string{
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"pinterest.com",
	"reddit.com",
	"threads.net",
}

// dismissConsentJS clicks the first visible cookie-consent control, if any.
// Best effort only; the return value is ignored.
const dismissConsentJS = `
(() => {
	const labels = ['accept all', 'accept', 'ok', 'agree', 'allow all',
		'alle akzeptieren', 'akzeptieren', 'aceptar', 'accepter', 'accetta', 'godta'];
	const visible = el => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const candidates = [];
	for (const el of document.querySelectorAll('button, a, [role="button"]')) {
		const text = (el.textContent || '').trim().toLowerCase();
		if (labels.includes(text)) candidates.push(el);
	}
	for (const el of document.querySelectorAll('[id*="accept-all"], [class*="accept-all"]')) {
		candidates.push(el);
	}
	for (const el of document.querySelectorAll('[aria-label*="Accept"][role="button"]')) {
		candidates.push(el);
	}
	for (const el of candidates) {
		if (visible(el)) { el.click(); return true; }
	}
	return false;
})()`

// collectAnchorsJS reports each anchor's raw href attribute plus the
// browser-resolved absolute URL.
const collectAnchorsJS = `
(() => Array.from(document.querySelectorAll('a[href]')).map(a => ({
	raw: a.getAttribute('href') || '',
	resolved: a.href || '',
})))()`

type anchorInfo struct {
	Raw      string `json:"raw"`
	Resolved string `json:"resolved"`
}

func (t *LinkTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("link tester: navigating to %s: %w", pageURL, err)
	}

	// Consent overlays hide links and block clicks; dismissing is best
	// effort and never fails the tester.
	var clicked bool
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(dismissConsentJS, &clicked)); err != nil {
		t.logger.Debug("consent dismissal failed",
			logging.Field{Key: "url", Value: pageURL},
			logging.Field{Key: "error", Value: err.Error()})
	}

	var anchors []anchorInfo
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(collectAnchorsJS, &anchors)); err != nil {
		return nil, fmt.Errorf("link tester: collecting anchors on %s: %w", pageURL, err)
	}

	targets := checkableTargets(anchors, t.cfg.MaxLinksPerPage)

	var defects []model.Defect
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		verdict := CheckLink(ctx, t.client, target)
		if verdict.Status != LinkBroken {
			continue
		}
		defects = append(defects, model.Defect{
			Type:     model.TypeBrokenLink,
			Severity: model.SeverityWarning,
			Title:    "Broken link: " + target,
			Details:  fmt.Sprintf("%s: %s", target, verdict.Detail),
			Page:     pageURL,
		})
	}
	return defects, nil
}

// botBlocked reports whether host is a blocked domain or a dotted subdomain
// of one.
func botBlocked(host string) bool {
	host = strings.ToLower(host)
	for _, b := range botBlockedHosts {
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// checkableTargets filters and dedups anchor targets: unchecked schemes,
// empty and pure-fragment hrefs, and bot-blocked hosts are dropped; the rest
// are fragment-stripped, deduped in order and capped at max.
func checkableTargets(anchors []anchorInfo, max int) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range anchors {
		raw := strings.TrimSpace(a.Raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		resolved := strings.TrimSpace(a.Resolved)
		if resolved == "" {
			continue
		}
		u, err := url.Parse(resolved)
		if err != nil || !u.IsAbs() {
			continue
		}
		if urlutil.SkippedScheme(u.Scheme) {
			continue
		}
		if botBlocked(u.Hostname()) {
			continue
		}
		u.Fragment = ""
		target := u.String()
		if seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
		if len(out) == max {
			break
		}
	}
	return out
}

// LinkStatus is the outcome of a link probe.
type LinkStatus int

const (
	LinkOK LinkStatus = iota
	LinkBroken
	LinkUncertain
)

// LinkVerdict carries the probe outcome plus a human-readable detail.
type LinkVerdict struct {
	Status LinkStatus
	Detail string
}

// CheckLink probes target with HEAD and, when inconclusive, GET. Only hard
// evidence (404/410, unresolvable host, refused connection) yields
// LinkBroken; everything ambiguous is LinkUncertain so the caller can drop
// it instead of reporting a false positive.
func CheckLink(ctx context.Context, client *http.Client, target string) LinkVerdict {
	if status, err := doRequest(ctx, client, http.MethodHead, target); err == nil {
		switch {
		case status < 400:
			return LinkVerdict{Status: LinkOK}
		case status == http.StatusNotFound || status == http.StatusGone:
			return LinkVerdict{Status: LinkBroken, Detail: fmt.Sprintf("Returned %d", status)}
		}
		// Some servers reject HEAD outright; retry with GET.
	}

	status, err := doRequest(ctx, client, http.MethodGet, target)
	if err != nil {
		if isHardConnectionError(err) {
			return LinkVerdict{Status: LinkBroken, Detail: "Domain not found or connection refused"}
		}
		return LinkVerdict{Status: LinkUncertain, Detail: err.Error()}
	}
	switch {
	case status < 400:
		return LinkVerdict{Status: LinkOK}
	case status == http.StatusNotFound || status == http.StatusGone:
		return LinkVerdict{Status: LinkBroken, Detail: fmt.Sprintf("Returned %d", status)}
	default:
		return LinkVerdict{
			Status: LinkUncertain,
			Detail: fmt.Sprintf("Returned %d — may be access-restricted or temporarily unavailable", status),
		}
	}
}

func doRequest(ctx context.Context, client *http.Client, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// isHardConnectionError matches failures that mean the target cannot exist:
// DNS resolution failure or an actively refused connection.
func isHardConnectionError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"ERR_NAME_NOT_RESOLVED",
		"ERR_CONNECTION_REFUSED",
		"no such host",
		"connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
