package report

import (
	"testing"
	"time"

	"github.com/storstekarn/VibeCheck/internal/model"
)

func def(typ model.DefectType, sev model.Severity, title string) model.Defect {
	return model.Defect{
		Type:     typ,
		Severity: sev,
		Title:    title,
		Details:  title + " details",
		FixPrompt: "do the fix",
	}
}

func TestBuildEmpty(t *testing.T) {
	pages := []model.PageRecord{
		{URL: "http://site.example", Title: "Home"},
		{URL: "http://site.example/about", Title: "About"},
	}

	rep := Build("http://site.example", pages, nil)

	if rep.PagesFound != 2 {
		t.Errorf("PagesFound = %d, want 2", rep.PagesFound)
	}
	if rep.Summary.TotalDefects != 0 || rep.Summary.Critical != 0 || rep.Summary.Warning != 0 || rep.Summary.Info != 0 {
		t.Errorf("summary not all zero: %+v", rep.Summary)
	}
	if len(rep.Summary.ByType) != len(model.AllDefectTypes) {
		t.Fatalf("byType has %d keys, want %d", len(rep.Summary.ByType), len(model.AllDefectTypes))
	}
	for _, typ := range model.AllDefectTypes {
		if n, ok := rep.Summary.ByType[typ]; !ok || n != 0 {
			t.Errorf("byType[%s] = %d, %v; want present and zero", typ, n, ok)
		}
	}
	if _, err := time.Parse(time.RFC3339, rep.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", rep.Timestamp, err)
	}
}

func TestBuildCountersAndIDs(t *testing.T) {
	pages := []model.PageRecord{
		{URL: "http://site.example", Defects: []model.Defect{
			def(model.TypeConsoleError, model.SeverityCritical, "Uncaught exception: x"),
			def(model.TypeBrokenImage, model.SeverityWarning, "Broken image: hero"),
			def(model.TypeResponsive, model.SeverityInfo, "Horizontal overflow at Desktop"),
		}},
		{URL: "http://site.example/about", Defects: []model.Defect{
			def(model.TypeBrokenLink, model.SeverityWarning, "Broken link: /missing"),
		}},
	}

	rep := Build("http://site.example", pages, nil)

	s := rep.Summary
	if s.TotalDefects != 4 {
		t.Fatalf("TotalDefects = %d, want 4", s.TotalDefects)
	}
	if s.Critical+s.Warning+s.Info != s.TotalDefects {
		t.Errorf("severity counts %d+%d+%d do not sum to %d", s.Critical, s.Warning, s.Info, s.TotalDefects)
	}
	typeSum := 0
	for _, n := range s.ByType {
		typeSum += n
	}
	if typeSum != s.TotalDefects {
		t.Errorf("type counts sum to %d, want %d", typeSum, s.TotalDefects)
	}

	pageSum := 0
	seen := map[string]bool{}
	for _, p := range rep.Pages {
		pageSum += len(p.Defects)
		for _, d := range p.Defects {
			if d.ID == "" {
				t.Error("defect with empty id in final report")
			}
			if seen[d.ID] {
				t.Errorf("duplicate defect id %s", d.ID)
			}
			seen[d.ID] = true
		}
	}
	if pageSum != s.TotalDefects {
		t.Errorf("page defects sum to %d, want %d", pageSum, s.TotalDefects)
	}
}

func TestBuildDedupAcrossPages(t *testing.T) {
	boom := def(model.TypeConsoleError, model.SeverityWarning, "Console error: boom")
	pages := []model.PageRecord{
		{URL: "http://site.example", Defects: []model.Defect{boom}},
		{URL: "http://site.example/about", Defects: []model.Defect{boom}},
	}

	rep := Build("http://site.example", pages, nil)

	if rep.Summary.TotalDefects != 1 {
		t.Fatalf("TotalDefects = %d, want 1 after dedup", rep.Summary.TotalDefects)
	}
	if len(rep.Pages[0].Defects) != 1 {
		t.Error("the first occurrence must stay on the earlier page")
	}
	if len(rep.Pages[1].Defects) != 0 {
		t.Error("the later duplicate must be dropped")
	}
	if rep.PagesFound != 2 {
		t.Errorf("PagesFound = %d, want 2 (before dedup)", rep.PagesFound)
	}
}

func TestBuildSortsBySeverityStable(t *testing.T) {
	pages := []model.PageRecord{
		{URL: "http://site.example", Defects: []model.Defect{
			def(model.TypeResponsive, model.SeverityInfo, "info-1"),
			def(model.TypeBrokenImage, model.SeverityWarning, "warn-1"),
			def(model.TypeConsoleError, model.SeverityCritical, "crit-1"),
			def(model.TypeBrokenLink, model.SeverityWarning, "warn-2"),
		}},
	}

	rep := Build("http://site.example", pages, nil)

	got := rep.Pages[0].Defects
	wantTitles := []string{"crit-1", "warn-1", "warn-2", "info-1"}
	for i, want := range wantTitles {
		if got[i].Title != want {
			t.Errorf("defect[%d] = %q, want %q", i, got[i].Title, want)
		}
	}
}

func TestBuildNoSharedFingerprints(t *testing.T) {
	pages := []model.PageRecord{
		{URL: "http://site.example", Defects: []model.Defect{
			def(model.TypeConsoleError, model.SeverityWarning, "a"),
			def(model.TypeConsoleError, model.SeverityWarning, "a"),
			def(model.TypeConsoleError, model.SeverityWarning, "b"),
		}},
	}

	rep := Build("http://site.example", pages, nil)

	fingerprints := map[string]bool{}
	for _, p := range rep.Pages {
		for _, d := range p.Defects {
			fp := d.Fingerprint()
			if fingerprints[fp] {
				t.Errorf("fingerprint %q appears twice", fp)
			}
			fingerprints[fp] = true
		}
	}
}

func TestBuildCarriesWarnings(t *testing.T) {
	rep := Build("http://site.example", nil, []string{"LLM hint generation failed; used template hints"})
	if len(rep.Warnings) != 1 {
		t.Fatalf("warnings = %v", rep.Warnings)
	}
}
