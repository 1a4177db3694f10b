package tester

import (
	"testing"

	"github.com/storstekarn/VibeCheck/internal/model"
)

func TestResponseDefect(t *testing.T) {
	page := "http://site.example/products"

	d, ok := responseDefect(page, "GET", "http://site.example/api/stock", 500)
	if !ok {
		t.Fatal("expected a defect for a 500 sub-resource")
	}
	if d.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want critical", d.Severity)
	}
	if d.Title != "Server error 500 on /api/stock" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Details != "GET http://site.example/api/stock returned 500" {
		t.Errorf("details = %q", d.Details)
	}

	d, ok = responseDefect(page, "GET", "http://site.example/missing.css", 404)
	if !ok {
		t.Fatal("expected a defect for a 404 sub-resource")
	}
	if d.Severity != model.SeverityWarning || d.Title != "Client error 404 on /missing.css" {
		t.Errorf("got %s / %q", d.Severity, d.Title)
	}
}

func TestResponseDefectSkips(t *testing.T) {
	page := "http://site.example/products"

	// Healthy response.
	if _, ok := responseDefect(page, "GET", "http://site.example/app.js", 200); ok {
		t.Error("200 must not produce a defect")
	}
	// The page document itself is not a sub-resource.
	if _, ok := responseDefect(page, "GET", page, 404); ok {
		t.Error("the page's own document must be skipped")
	}
	if _, ok := responseDefect(page, "GET", "http://site.example/products/", 404); ok {
		t.Error("trailing-slash variant of the page must be skipped")
	}
	// Third-party noise.
	for _, noisy := range []string{
		"http://site.example/favicon.ico",
		"https://www.google-analytics.com/collect",
		"https://static.hotjar.com/c.js",
		"https://o123.ingest.sentry.io/envelope",
		"https://site.example/cdn-cgi/rum",
		"https://securepubads.g.doubleclick.net/tag",
	} {
		if _, ok := responseDefect(page, "GET", noisy, 500); ok {
			t.Errorf("noise url %q must be skipped", noisy)
		}
	}
}

func TestFailedRequestDefect(t *testing.T) {
	page := "http://site.example/"

	d, ok := failedRequestDefect(page, "GET", "http://dead.invalid/script.js", "net::ERR_NAME_NOT_RESOLVED")
	if !ok {
		t.Fatal("expected a defect")
	}
	if d.Severity != model.SeverityCritical {
		t.Errorf("severity = %s, want critical", d.Severity)
	}
	if d.Title != "Request failed: /script.js" {
		t.Errorf("title = %q", d.Title)
	}
	if d.Details != "GET http://dead.invalid/script.js failed: net::ERR_NAME_NOT_RESOLVED" {
		t.Errorf("details = %q", d.Details)
	}

	d, ok = failedRequestDefect(page, "GET", "http://site.example/x.js", "")
	if !ok {
		t.Fatal("expected a defect")
	}
	if d.Details != "GET http://site.example/x.js failed: unknown error" {
		t.Errorf("details = %q", d.Details)
	}

	if _, ok := failedRequestDefect(page, "GET", "https://www.googletagmanager.com/gtm.js", "net::ERR_BLOCKED"); ok {
		t.Error("noise url must be skipped")
	}
}
