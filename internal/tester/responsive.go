package tester

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// ResponsiveTester loads the page at common viewport sizes and flags
// horizontal overflow.
type ResponsiveTester struct {
	cfg    Config
	logger logging.Logger
}

func NewResponsiveTester(cfg Config, logger logging.Logger) *ResponsiveTester {
	return &ResponsiveTester{cfg: cfg.withDefaults(), logger: logger}
}

func (t *ResponsiveTester) Type() model.DefectType { return model.TypeResponsive }

// viewport is one emulated device size. Overflow on the narrow sizes is a
// warning; on desktop it is informational.
type viewport struct {
	Name     string
	Width    int64
	Height   int64
	Severity model.Severity
}

var viewports = []viewport{
	{Name: "Mobile", Width: 375, Height: 812, Severity: model.SeverityWarning},
	{Name: "Tablet", Width: 768, Height: 1024, Severity: model.SeverityWarning},
	{Name: "Desktop", Width: 1440, Height: 900, Severity: model.SeverityInfo},
}

const measureOverflowJS = `
(() => ({
	scrollWidth: document.documentElement.scrollWidth,
	clientWidth: document.documentElement.clientWidth,
}))()`

type overflowMeasure struct {
	ScrollWidth int `json:"scrollWidth"`
	ClientWidth int `json:"clientWidth"`
}

func (t *ResponsiveTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	var defects []model.Defect

	for _, vp := range viewports {
		if ctx.Err() != nil {
			return defects, ctx.Err()
		}

		measure, err := t.measureAt(ctx, session, pageURL, vp)
		if err != nil {
			return defects, err
		}

		if d, ok := overflowDefect(pageURL, vp, measure.ScrollWidth, measure.ClientWidth); ok {
			defects = append(defects, d)
		}
	}
	return defects, nil
}

func (t *ResponsiveTester) measureAt(ctx context.Context, session *browser.Session, pageURL string, vp viewport) (overflowMeasure, error) {
	var measure overflowMeasure

	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.EmulateViewport(vp.Width, vp.Height),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return measure, fmt.Errorf("responsive tester: loading %s at %s: %w", pageURL, vp.Name, err)
	}

	browser.Settle(tabCtx, t.cfg.SettleShort)

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(measureOverflowJS, &measure)); err != nil {
		return measure, fmt.Errorf("responsive tester: measuring %s at %s: %w", pageURL, vp.Name, err)
	}
	return measure, nil
}

// overflowDefect reports horizontal overflow at one viewport.
func overflowDefect(pageURL string, vp viewport, scrollWidth, clientWidth int) (model.Defect, bool) {
	if scrollWidth <= clientWidth {
		return model.Defect{}, false
	}
	return model.Defect{
		Type:     model.TypeResponsive,
		Severity: vp.Severity,
		Title:    fmt.Sprintf("Horizontal overflow at %s", vp.Name),
		Details: fmt.Sprintf("Page has horizontal overflow at %dpx width. Content width: %dpx, viewport: %dpx.",
			vp.Width, scrollWidth, vp.Width),
		Page: pageURL,
	}, true
}
