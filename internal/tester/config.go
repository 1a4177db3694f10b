package tester

import "time"

// Config carries the knobs shared by the testers.
type Config struct {
	// NavTimeout bounds each navigation a tester performs.
	NavTimeout time.Duration

	// SettleShort is the post-navigation pause for layout-ish checks
	// (accessibility, responsive).
	SettleShort time.Duration

	// SettleLong is the post-navigation pause for async errors and
	// in-flight requests (console, network, images).
	SettleLong time.Duration

	// LinkTimeout bounds each HEAD and each GET issued by the link tester.
	LinkTimeout time.Duration

	// MaxLinksPerPage caps how many unique link targets are checked per page.
	MaxLinksPerPage int

	// MaxViolationsPerPage caps reported accessibility violations per page.
	MaxViolationsPerPage int

	// AxeScriptURL is where the accessibility audit script is loaded from.
	AxeScriptURL string
}

// DefaultConfig returns the tester budgets used in production.
func DefaultConfig() Config {
	return Config{
		NavTimeout:           15 * time.Second,
		SettleShort:          300 * time.Millisecond,
		SettleLong:           500 * time.Millisecond,
		LinkTimeout:          8 * time.Second,
		MaxLinksPerPage:      50,
		MaxViolationsPerPage: 10,
		AxeScriptURL:         "https://cdn.jsdelivr.net/npm/axe-core@4.10.2/axe.min.js",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NavTimeout <= 0 {
		c.NavTimeout = def.NavTimeout
	}
	if c.SettleShort <= 0 {
		c.SettleShort = def.SettleShort
	}
	if c.SettleLong <= 0 {
		c.SettleLong = def.SettleLong
	}
	if c.LinkTimeout <= 0 {
		c.LinkTimeout = def.LinkTimeout
	}
	if c.MaxLinksPerPage <= 0 {
		c.MaxLinksPerPage = def.MaxLinksPerPage
	}
	if c.MaxViolationsPerPage <= 0 {
		c.MaxViolationsPerPage = def.MaxViolationsPerPage
	}
	if c.AxeScriptURL == "" {
		c.AxeScriptURL = def.AxeScriptURL
	}
	return c
}
