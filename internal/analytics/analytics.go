// Package analytics is the write-mostly sink for per-scan summary records.
// The core inserts one row per completed scan; the admin surface reads
// recent rows back. Failures here are logged and never fail a scan.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL,
	domain TEXT NOT NULL,
	pages_scanned INTEGER NOT NULL,
	total_bugs INTEGER NOT NULL,
	bugs_by_type TEXT NOT NULL,
	bugs_by_severity TEXT NOT NULL,
	used_templates INTEGER NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_events_ts ON scan_events (ts DESC);
`

// Store appends scan_complete records to a SQLite file.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the analytics database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening analytics database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring analytics schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record inserts one scan_complete row.
func (s *Store) Record(ctx context.Context, rec model.AnalyticsRecord) error {
	byType, err := json.Marshal(rec.BugsByType)
	if err != nil {
		return fmt.Errorf("encoding bugs_by_type: %w", err)
	}
	bySeverity, err := json.Marshal(rec.BugsBySeverity)
	if err != nil {
		return fmt.Errorf("encoding bugs_by_severity: %w", err)
	}

	usedTemplates := 0
	if rec.UsedTemplates {
		usedTemplates = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_events
		     (event, domain, pages_scanned, total_bugs, bugs_by_type, bugs_by_severity, used_templates, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Event, rec.Domain, rec.PagesScanned, rec.TotalBugs,
		string(byType), string(bySeverity), usedTemplates, rec.TS.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting scan event: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.AnalyticsRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event, domain, pages_scanned, total_bugs, bugs_by_type, bugs_by_severity, used_templates, ts
		 FROM scan_events
		 ORDER BY ts DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnalyticsRecord
	for rows.Next() {
		var rec model.AnalyticsRecord
		var byType, bySeverity string
		var usedTemplates int
		var ts int64
		if err := rows.Scan(&rec.Event, &rec.Domain, &rec.PagesScanned, &rec.TotalBugs,
			&byType, &bySeverity, &usedTemplates, &ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(byType), &rec.BugsByType); err != nil {
			s.logger.Warn("corrupt bugs_by_type in analytics row",
				logging.Field{Key: "error", Value: err.Error()})
		}
		if err := json.Unmarshal([]byte(bySeverity), &rec.BugsBySeverity); err != nil {
			s.logger.Warn("corrupt bugs_by_severity in analytics row",
				logging.Field{Key: "error", Value: err.Error()})
		}
		rec.UsedTemplates = usedTemplates != 0
		rec.TS = time.Unix(ts, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFromReport derives the analytics record for a finished scan.
func RecordFromReport(domain string, rep *model.Report, usedTemplates bool) model.AnalyticsRecord {
	bySeverity := map[model.Severity]int{
		model.SeverityCritical: rep.Summary.Critical,
		model.SeverityWarning:  rep.Summary.Warning,
		model.SeverityInfo:     rep.Summary.Info,
	}
	byType := make(map[model.DefectType]int, len(rep.Summary.ByType))
	for t, n := range rep.Summary.ByType {
		byType[t] = n
	}
	return model.AnalyticsRecord{
		Event:          "scan_complete",
		Domain:         domain,
		PagesScanned:   rep.PagesFound,
		TotalBugs:      rep.Summary.TotalDefects,
		BugsByType:     byType,
		BugsBySeverity: bySeverity,
		UsedTemplates:  usedTemplates,
		TS:             time.Now().UTC(),
	}
}
