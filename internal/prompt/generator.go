// Package prompt fills each defect's remediation hint, preferring the cache,
// then an external model, then deterministic templates.
package prompt

import (
	"context"

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/promptcache"
)

// Stats reports what the generator did for one defect list.
type Stats struct {
	CacheHits      int
	CacheMisses    int
	UsedFallback   bool
	FallbackReason string
}

// Generator applies the tiered hint strategy. A nil client means no
// credential is configured and every uncached defect gets a template hint.
type Generator struct {
	cache  *promptcache.Cache
	client HintClient
	logger logging.Logger
}

// NewGenerator wires a Generator. client may be nil.
func NewGenerator(cache *promptcache.Cache, client HintClient, logger logging.Logger) *Generator {
	return &Generator{cache: cache, client: client, logger: logger}
}

// Generate returns the same defects in the same order with FixPrompt
// populated. Cached hints are reused; the rest go to the external model in
// per-page batches, falling back to templates per batch on any failure.
func (g *Generator) Generate(ctx context.Context, defects []model.Defect) ([]model.Defect, Stats) {
	out := make([]model.Defect, len(defects))
	copy(out, defects)

	var stats Stats

	// Tier 1: cache.
	var uncached []int
	for i := range out {
		key := promptcache.Key(out[i].Type, out[i].Title, out[i].Details)
		if hint, ok := g.cache.Get(key); ok {
			out[i].FixPrompt = hint
			stats.CacheHits++
			continue
		}
		uncached = append(uncached, i)
	}
	stats.CacheMisses = len(uncached)

	if len(uncached) == 0 {
		return out, stats
	}

	if g.client == nil {
		for _, i := range uncached {
			g.fillTemplate(&out[i])
		}
		stats.UsedFallback = true
		stats.FallbackReason = "no LLM API key configured; used template hints"
		return out, stats
	}

	// Tier 2: external model, one batch per page, in first-seen page order.
	batches := groupByPage(out, uncached)
	failedBatches := 0
	var lastErr error

	for _, batch := range batches {
		if err := g.fillFromModel(ctx, out, batch); err != nil {
			g.logger.Warn("hint batch failed, using templates",
				logging.Field{Key: "page", Value: out[batch[0]].Page},
				logging.Field{Key: "defects", Value: len(batch)},
				logging.Field{Key: "error", Value: err.Error()})
			for _, i := range batch {
				g.fillTemplate(&out[i])
			}
			failedBatches++
			lastErr = err
		}
	}

	// A single successful batch proves the external tier works; only a
	// clean sweep of failures raises the report warning.
	if failedBatches == len(batches) {
		stats.UsedFallback = true
		stats.FallbackReason = "LLM hint generation failed; used template hints: " + lastErr.Error()
	}
	return out, stats
}

// groupByPage batches the given indexes by their defect's page, preserving
// first-seen page order and within-page order.
func groupByPage(defects []model.Defect, indexes []int) [][]int {
	byPage := map[string][]int{}
	var pageOrder []string
	for _, i := range indexes {
		page := defects[i].Page
		if _, seen := byPage[page]; !seen {
			pageOrder = append(pageOrder, page)
		}
		byPage[page] = append(byPage[page], i)
	}

	batches := make([][]int, 0, len(pageOrder))
	for _, page := range pageOrder {
		batches = append(batches, byPage[page])
	}
	return batches
}

// fillFromModel asks the external model for one page batch and writes the
// hints through to the cache.
func (g *Generator) fillFromModel(ctx context.Context, defects []model.Defect, batch []int) error {
	batchDefects := make([]model.Defect, len(batch))
	for bi, i := range batch {
		batchDefects[bi] = defects[i]
	}

	hints, err := g.client.GenerateHints(ctx, batchDefects[0].Page, batchDefects)
	if err != nil {
		return err
	}

	for bi, i := range batch {
		defects[i].FixPrompt = hints[bi]
		g.cache.Put(promptcache.Key(defects[i].Type, defects[i].Title, defects[i].Details), hints[bi])
	}
	return nil
}

// fillTemplate writes the deterministic hint and caches it like any other.
func (g *Generator) fillTemplate(d *model.Defect) {
	d.FixPrompt = TemplateHint(*d)
	g.cache.Put(promptcache.Key(d.Type, d.Title, d.Details), d.FixPrompt)
}
