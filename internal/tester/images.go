package tester

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// ImageTester finds <img> elements that finished loading with no pixel data.
type ImageTester struct {
	cfg    Config
	logger logging.Logger
}

func NewImageTester(cfg Config, logger logging.Logger) *ImageTester {
	return &ImageTester{cfg: cfg.withDefaults(), logger: logger}
}

func (t *ImageTester) Type() model.DefectType { return model.TypeBrokenImage }

// imageInfo is what the in-page script reports per <img>.
type imageInfo struct {
	Src          string `json:"src"`
	Alt          string `json:"alt"`
	Complete     bool   `json:"complete"`
	NaturalWidth int    `json:"naturalWidth"`
}

const collectImagesJS = `
(() => Array.from(document.querySelectorAll('img')).map(img => ({
	src: img.getAttribute('src') || '',
	alt: img.getAttribute('alt') || '',
	complete: img.complete,
	naturalWidth: img.naturalWidth,
})))()`

func (t *ImageTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("image tester: navigating to %s: %w", pageURL, err)
	}

	browser.Settle(tabCtx, t.cfg.SettleLong)

	var images []imageInfo
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(collectImagesJS, &images)); err != nil {
		return nil, fmt.Errorf("image tester: inspecting images on %s: %w", pageURL, err)
	}

	return imageDefects(pageURL, images), nil
}

// imageDefects emits one warning per image that completed loading with zero
// natural width. Images without a src and inline data URIs are skipped.
func imageDefects(pageURL string, images []imageInfo) []model.Defect {
	var defects []model.Defect
	for _, img := range images {
		if img.Src == "" || strings.HasPrefix(img.Src, "data:") {
			continue
		}
		if !img.Complete || img.NaturalWidth != 0 {
			continue
		}
		label := img.Alt
		if label == "" {
			label = img.Src
		}
		defects = append(defects, model.Defect{
			Type:     model.TypeBrokenImage,
			Severity: model.SeverityWarning,
			Title:    "Broken image: " + label,
			Details:  "Image failed to load: " + img.Src,
			Page:     pageURL,
		})
	}
	return defects
}
