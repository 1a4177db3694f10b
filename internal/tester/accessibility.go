package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// AccessibilityTester injects the axe-core audit script into the page and
// reports its violations.
type AccessibilityTester struct {
	cfg    Config
	logger logging.Logger
}

func NewAccessibilityTester(cfg Config, logger logging.Logger) *AccessibilityTester {
	return &AccessibilityTester{cfg: cfg.withDefaults(), logger: logger}
}

func (t *AccessibilityTester) Type() model.DefectType { return model.TypeAccessibility }

// axeViolation mirrors the subset of axe.run output we consume.
type axeViolation struct {
	ID          string `json:"id"`
	Help        string `json:"help"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
	Nodes       []struct {
		HTML string `json:"html"`
	} `json:"nodes"`
}

const runAxeJS = `
axe.run(document, { resultTypes: ['violations'] }).then(r => JSON.stringify(r.violations))`

func (t *AccessibilityTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("accessibility tester: navigating to %s: %w", pageURL, err)
	}

	browser.Settle(tabCtx, t.cfg.SettleShort)

	injectJS := fmt.Sprintf(`
new Promise((resolve, reject) => {
	if (window.axe) { resolve(true); return; }
	const s = document.createElement('script');
	s.src = %q;
	s.onload = () => resolve(true);
	s.onerror = () => reject(new Error('failed to load audit script'));
	document.head.appendChild(s);
})`, t.cfg.AxeScriptURL)

	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}

	var ok bool
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(injectJS, &ok, awaitPromise)); err != nil {
		return nil, fmt.Errorf("accessibility tester: injecting audit script on %s: %w", pageURL, err)
	}

	var raw string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(runAxeJS, &raw, awaitPromise)); err != nil {
		return nil, fmt.Errorf("accessibility tester: running audit on %s: %w", pageURL, err)
	}

	var violations []axeViolation
	if err := json.Unmarshal([]byte(raw), &violations); err != nil {
		return nil, fmt.Errorf("accessibility tester: decoding audit result on %s: %w", pageURL, err)
	}

	return accessibilityDefects(pageURL, violations, t.cfg.MaxViolationsPerPage), nil
}

// impactSeverity maps axe impact levels onto our severity order. Anything
// below serious, or missing, is informational.
func impactSeverity(impact string) model.Severity {
	switch impact {
	case "critical":
		return model.SeverityCritical
	case "serious":
		return model.SeverityWarning
	default:
		return model.SeverityInfo
	}
}

// accessibilityDefects converts audit violations into defects, capped at max
// per page, with up to three affected-element snippets in the details.
func accessibilityDefects(pageURL string, violations []axeViolation, max int) []model.Defect {
	var defects []model.Defect
	for _, v := range violations {
		if len(defects) == max {
			break
		}

		snippets := make([]string, 0, 3)
		for _, n := range v.Nodes {
			if len(snippets) == 3 {
				break
			}
			if n.HTML != "" {
				snippets = append(snippets, n.HTML)
			}
		}

		details := v.Description
		if len(snippets) > 0 {
			details = fmt.Sprintf("%s. Affected elements: %s", v.Description, strings.Join(snippets, ", "))
		}

		defects = append(defects, model.Defect{
			Type:     model.TypeAccessibility,
			Severity: impactSeverity(v.Impact),
			Title:    fmt.Sprintf("%s: %s", v.ID, v.Help),
			Details:  details,
			Page:     pageURL,
		})
	}
	return defects
}
