package tester

import (
	"testing"

	"github.com/storstekarn/VibeCheck/internal/model"
)

func TestOverflowDefect(t *testing.T) {
	mobile := viewports[0]

	d, ok := overflowDefect("http://site.example/", mobile, 2200, 375)
	if !ok {
		t.Fatal("expected a defect when scrollWidth exceeds clientWidth")
	}
	if d.Title != "Horizontal overflow at Mobile" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Details != "Page has horizontal overflow at 375px width. Content width: 2200px, viewport: 375px." {
		t.Errorf("details = %q", d.Details)
	}
	if d.Severity != model.SeverityWarning {
		t.Errorf("severity = %s", d.Severity)
	}

	if _, ok := overflowDefect("http://site.example/", mobile, 375, 375); ok {
		t.Error("no overflow must mean no defect")
	}
}

func TestViewportSeverities(t *testing.T) {
	if viewports[0].Severity != model.SeverityWarning ||
		viewports[1].Severity != model.SeverityWarning ||
		viewports[2].Severity != model.SeverityInfo {
		t.Error("viewport severities must be warning, warning, info")
	}
}
