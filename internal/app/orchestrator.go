package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/storstekarn/VibeCheck/internal/analytics"
	"github.com/storstekarn/VibeCheck/internal/crawler"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/prompt"
	"github.com/storstekarn/VibeCheck/internal/registry"
	"github.com/storstekarn/VibeCheck/internal/report"
)

// Crawler discovers the page set for a seed URL.
type Crawler interface {
	Crawl(ctx context.Context, seed string, onProgress crawler.ProgressFunc) ([]model.PageRecord, error)
}

// PageDriver owns the browser for the test phase and runs the tester set
// against one page at a time.
type PageDriver interface {
	Start(ctx context.Context) error
	TestPage(ctx context.Context, page *model.PageRecord)
	Close()
}

// HintGenerator fills remediation hints for a defect list.
type HintGenerator interface {
	Generate(ctx context.Context, defects []model.Defect) ([]model.Defect, prompt.Stats)
}

// AnalyticsSink receives the single record emitted per completed scan.
type AnalyticsSink interface {
	Record(ctx context.Context, rec model.AnalyticsRecord) error
}

// Orchestrator sequences crawl, testing, hint generation and report
// assembly for one scan, publishing progress along the way.
type Orchestrator struct {
	cfg       *Config
	crawler   Crawler
	driver    PageDriver
	hints     HintGenerator
	analytics AnalyticsSink
	logger    logging.Logger
}

// NewOrchestrator wires the pipeline stages together. analytics may be nil.
func NewOrchestrator(cfg *Config, c Crawler, d PageDriver, h HintGenerator, a AnalyticsSink, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:       cfg,
		crawler:   c,
		driver:    d,
		hints:     h,
		analytics: a,
		logger:    logger,
	}
}

type runResult struct {
	report *model.Report
	err    error
}

// Run executes the pipeline under the whole-scan deadline. On expiry the
// scan fails; no partial report is returned. Progress is published through
// sc up to 95 percent; the caller publishes the terminal event once the
// report is queryable.
func (o *Orchestrator) Run(ctx context.Context, sc *registry.Scan) (*model.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ScanTimeout)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		rep, err := o.pipeline(ctx, sc)
		done <- runResult{report: rep, err: err}
	}()

	select {
	case res := <-done:
		return res.report, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("scan timed out after %s", o.cfg.ScanTimeout)
	}
}

func (o *Orchestrator) pipeline(ctx context.Context, sc *registry.Scan) (*model.Report, error) {
	seed := sc.SeedURL
	var warnings []string

	// Phase 1: crawl. The crawler's 0-100 maps onto our 0-30 band.
	sc.Publish(model.ProgressEvent{Phase: "crawling", Message: "Starting page discovery...", Progress: 0})

	pages, err := o.crawler.Crawl(ctx, seed, func(p int, msg string) {
		sc.Publish(model.ProgressEvent{Phase: "crawling", Message: msg, Progress: p * 30 / 100})
	})
	if err != nil {
		// The crawler only errors when the seed itself would not load;
		// the scan proceeds with whatever was found (possibly nothing).
		o.logger.Warn("crawl failed, continuing with empty page set",
			logging.Field{Key: "seed", Value: seed},
			logging.Field{Key: "error", Value: err.Error()})
		pages = nil
	}
	sc.Publish(model.ProgressEvent{Phase: "crawling", Message: fmt.Sprintf("Found %d page(s)", len(pages)), Progress: 30})

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Phase 2: drive the testers over each page with a single browser.
	if err := o.driver.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting test browser: %w", err)
	}
	defer o.driver.Close()

	total := len(pages)
	for i := range pages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		label := pages[i].Title
		if label == "" {
			label = pages[i].URL
		}
		sc.Publish(model.ProgressEvent{
			Phase:    "testing",
			Message:  fmt.Sprintf("Testing page %d/%d: %s", i+1, total, label),
			Progress: 30 + (i+1)*50/total,
		})
		o.driver.TestPage(ctx, &pages[i])
	}

	// Phase 3: remediation hints for every defect, in page order.
	sc.Publish(model.ProgressEvent{Phase: "prompts", Message: "Generating fix prompts...", Progress: 85})

	var all []model.Defect
	for _, p := range pages {
		all = append(all, p.Defects...)
	}

	generated, stats := o.hints.Generate(ctx, all)
	if stats.UsedFallback {
		sc.Publish(model.ProgressEvent{Phase: "prompts", Message: stats.FallbackReason, Progress: 90})
		warnings = append(warnings, stats.FallbackReason)
	}

	// The generator returns the sequence it was given; slot the hint-filled
	// defects back into their pages in order.
	idx := 0
	for pi := range pages {
		for di := range pages[pi].Defects {
			pages[pi].Defects[di] = generated[idx]
			idx++
		}
	}

	// Phase 4: report.
	sc.Publish(model.ProgressEvent{Phase: "report", Message: "Building report...", Progress: 95})
	rep := report.Build(seed, pages, warnings)

	o.recordAnalytics(ctx, seed, rep, stats.UsedFallback)

	return rep, nil
}

// recordAnalytics emits the scan_complete record; failures are logged only.
func (o *Orchestrator) recordAnalytics(ctx context.Context, seed string, rep *model.Report, usedTemplates bool) {
	if o.analytics == nil {
		return
	}
	domain := seed
	if u, err := url.Parse(seed); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}
	if err := o.analytics.Record(ctx, analytics.RecordFromReport(domain, rep, usedTemplates)); err != nil {
		o.logger.Warn("recording scan analytics failed",
			logging.Field{Key: "domain", Value: domain},
			logging.Field{Key: "error", Value: err.Error()})
	}
}
