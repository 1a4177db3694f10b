// Package driver runs the tester set against one page with per-tester
// isolation: a tester that times out or panics contributes nothing and the
// page, and the scan, carry on.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/tester"
)

// DefaultTesterTimeout is the budget one tester gets for one page.
const DefaultTesterTimeout = 30 * time.Second

// Driver sequences the testers over a page.
type Driver struct {
	testers []tester.Tester
	timeout time.Duration
	logger  logging.Logger
}

// New creates a Driver over the given tester set.
func New(testers []tester.Tester, timeout time.Duration, logger logging.Logger) *Driver {
	if timeout <= 0 {
		timeout = DefaultTesterTimeout
	}
	return &Driver{testers: testers, timeout: timeout, logger: logger}
}

// TestPage runs every tester against page.URL and appends the surviving
// defects, deduplicated within the page, to the record.
func (d *Driver) TestPage(ctx context.Context, session *browser.Session, page *model.PageRecord) {
	var collected []model.Defect

	for _, t := range d.testers {
		if ctx.Err() != nil {
			return
		}
		defects, err := d.runOne(ctx, t, session, page.URL)
		if err != nil {
			d.logger.Warn("tester failed, dropping its defects",
				logging.Field{Key: "tester", Value: string(t.Type())},
				logging.Field{Key: "url", Value: page.URL},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		collected = append(collected, defects...)
	}

	page.Defects = append(page.Defects, dedupe(collected)...)
}

type testerResult struct {
	defects []model.Defect
	err     error
}

// runOne races a single tester against the per-tester timeout. The tester's
// tab is derived from the timeout context, so expiry releases its resources.
func (d *Driver) runOne(ctx context.Context, t tester.Tester, session *browser.Session, pageURL string) ([]model.Defect, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resultCh := make(chan testerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- testerResult{err: fmt.Errorf("tester panicked: %v", r)}
			}
		}()
		defects, err := t.Run(runCtx, session, pageURL)
		resultCh <- testerResult{defects: defects, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.defects, res.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("tester timed out after %s", d.timeout)
	}
}

// dedupe removes within-page duplicates, keeping the first occurrence.
func dedupe(defects []model.Defect) []model.Defect {
	seen := map[string]bool{}
	out := defects[:0]
	for _, def := range defects {
		fp := def.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, def)
	}
	return out
}
