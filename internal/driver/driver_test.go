package driver

import (
	"context"
	"testing"
	"time"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/tester"
)

// fakeTester is a scripted tester; it ignores the browser session entirely.
type fakeTester struct {
	typ     model.DefectType
	defects []model.Defect
	err     error
	delay   time.Duration
	panics  bool
}

func (f *fakeTester) Type() model.DefectType { return f.typ }

func (f *fakeTester) Run(ctx context.Context, _ *browser.Session, pageURL string) ([]model.Defect, error) {
	if f.panics {
		panic("scripted panic")
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.defects, f.err
}

func defect(typ model.DefectType, title string) model.Defect {
	return model.Defect{
		Type:     typ,
		Severity: model.SeverityWarning,
		Title:    title,
		Details:  title,
		Page:     "http://site.example/",
	}
}

func TestTestPageCollectsAcrossTesters(t *testing.T) {
	d := New([]tester.Tester{
		&fakeTester{typ: model.TypeConsoleError, defects: []model.Defect{defect(model.TypeConsoleError, "boom")}},
		&fakeTester{typ: model.TypeBrokenImage, defects: []model.Defect{defect(model.TypeBrokenImage, "hero")}},
	}, time.Second, logging.NopLogger{})

	page := model.PageRecord{URL: "http://site.example/"}
	d.TestPage(context.Background(), nil, &page)

	if len(page.Defects) != 2 {
		t.Fatalf("got %d defects, want 2", len(page.Defects))
	}
}

func TestTestPageIsolatesFailures(t *testing.T) {
	d := New([]tester.Tester{
		&fakeTester{typ: model.TypeConsoleError, err: context.DeadlineExceeded},
		&fakeTester{typ: model.TypeNetworkError, panics: true},
		&fakeTester{typ: model.TypeBrokenImage, defects: []model.Defect{defect(model.TypeBrokenImage, "hero")}},
	}, time.Second, logging.NopLogger{})

	page := model.PageRecord{URL: "http://site.example/"}
	d.TestPage(context.Background(), nil, &page)

	if len(page.Defects) != 1 || page.Defects[0].Title != "hero" {
		t.Fatalf("expected only the healthy tester's defect, got %v", page.Defects)
	}
}

func TestTestPageTimesOutSlowTester(t *testing.T) {
	d := New([]tester.Tester{
		&fakeTester{typ: model.TypeConsoleError, delay: 5 * time.Second,
			defects: []model.Defect{defect(model.TypeConsoleError, "late")}},
		&fakeTester{typ: model.TypeBrokenImage, defects: []model.Defect{defect(model.TypeBrokenImage, "hero")}},
	}, 50*time.Millisecond, logging.NopLogger{})

	page := model.PageRecord{URL: "http://site.example/"}
	start := time.Now()
	d.TestPage(context.Background(), nil, &page)

	if time.Since(start) > 2*time.Second {
		t.Fatal("slow tester was not cut off by its timeout")
	}
	if len(page.Defects) != 1 || page.Defects[0].Title != "hero" {
		t.Fatalf("timed-out tester must contribute nothing, got %v", page.Defects)
	}
}

func TestTestPageDeduplicatesWithinPage(t *testing.T) {
	dup := defect(model.TypeConsoleError, "boom")
	d := New([]tester.Tester{
		&fakeTester{typ: model.TypeConsoleError, defects: []model.Defect{dup, dup}},
		&fakeTester{typ: model.TypeNetworkError, defects: []model.Defect{dup}},
	}, time.Second, logging.NopLogger{})

	page := model.PageRecord{URL: "http://site.example/"}
	d.TestPage(context.Background(), nil, &page)

	if len(page.Defects) != 1 {
		t.Fatalf("got %d defects, want 1 after within-page dedup", len(page.Defects))
	}
}
