// Package tester implements the six defect detectors. Every tester has the
// same shape: given the scan's browser session and a page URL, drive a fresh
// tab against the page and return the defects it observed. Testers never
// fail the page; errors bubble to the driver which logs and drops them.
package tester

import (
	"context"
	"strings"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// Tester is one defect detector.
type Tester interface {
	// Type is the defect category this tester produces.
	Type() model.DefectType

	// Run drives a fresh page against pageURL and returns the defects found.
	// Returned defects have Page set to pageURL and an empty ID.
	Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error)
}

// All returns the full tester set in the order the page driver runs them.
func All(cfg Config, logger logging.Logger) []Tester {
	return []Tester{
		NewConsoleTester(cfg, logger),
		NewNetworkTester(cfg, logger),
		NewImageTester(cfg, logger),
		NewLinkTester(cfg, logger),
		NewAccessibilityTester(cfg, logger),
		NewResponsiveTester(cfg, logger),
	}
}

// consoleNoise matches console messages that originate from third-party
// infrastructure a site owner cannot fix.
var consoleNoise = []string{
	"favicon",
	"/cdn-cgi/",
	"googletagmanager",
	"gtag/js",
	"google-analytics.com",
	"doubleclick",
	"clarity.ms",
	"Failed to load resource",
}

// requestNoise matches sub-resource URLs from analytics and edge
// infrastructure whose failures are not the site's defect.
var requestNoise = []string{
	"favicon",
	"google-analytics.com",
	"googletagmanager",
	"gtag/js",
	"hotjar.com",
	"sentry.io",
	"/cdn-cgi/",
	"cloudflareinsights.com",
	"clarity.ms",
	"doubleclick",
	"googlesyndication",
}

func matchesAny(s string, patterns []string) bool {
	lower := strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// firstLine returns s up to the first newline.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
