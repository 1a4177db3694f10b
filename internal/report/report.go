// Package report assembles the final scan report: cross-page deduplication,
// identifier assignment, severity ordering and summary counters.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/storstekarn/VibeCheck/internal/model"
)

// Build materializes the report for a finished scan. pages arrive in crawl
// discovery order with hints already populated; that order is preserved.
func Build(seedURL string, pages []model.PageRecord, warnings []string) *model.Report {
	seen := map[string]bool{}

	outPages := make([]model.PageRecord, 0, len(pages))
	summary := model.Summary{ByType: map[model.DefectType]int{}}
	for _, t := range model.AllDefectTypes {
		summary.ByType[t] = 0
	}

	for _, page := range pages {
		outPage := page
		outPage.Defects = make([]model.Defect, 0, len(page.Defects))

		for _, d := range page.Defects {
			fp := d.Fingerprint()
			if seen[fp] {
				// A duplicate on a later page; the first occurrence on the
				// earliest page already represents it.
				continue
			}
			seen[fp] = true
			d.ID = uuid.New().String()
			outPage.Defects = append(outPage.Defects, d)

			summary.TotalDefects++
			summary.ByType[d.Type]++
			switch d.Severity {
			case model.SeverityCritical:
				summary.Critical++
			case model.SeverityWarning:
				summary.Warning++
			case model.SeverityInfo:
				summary.Info++
			}
		}

		sort.SliceStable(outPage.Defects, func(i, j int) bool {
			return outPage.Defects[i].Severity.Rank() < outPage.Defects[j].Severity.Rank()
		})

		outPages = append(outPages, outPage)
	}

	return &model.Report{
		URL:        seedURL,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		PagesFound: len(pages),
		Pages:      outPages,
		Summary:    summary,
		Warnings:   warnings,
	}
}
