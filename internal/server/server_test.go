package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/storstekarn/VibeCheck/internal/analytics"
	"github.com/storstekarn/VibeCheck/internal/app"
	"github.com/storstekarn/VibeCheck/internal/crawler"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/prompt"
	"github.com/storstekarn/VibeCheck/internal/registry"
	"github.com/storstekarn/VibeCheck/internal/server"
)

// --- pipeline stubs ---

type stubCrawler struct {
	pages []model.PageRecord
	block chan struct{}
}

func (s *stubCrawler) Crawl(ctx context.Context, seed string, onProgress crawler.ProgressFunc) ([]model.PageRecord, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.pages, nil
}

type stubDriver struct{}

func (stubDriver) Start(ctx context.Context) error                      { return nil }
func (stubDriver) TestPage(ctx context.Context, page *model.PageRecord) {}
func (stubDriver) Close()                                               {}

type stubHints struct{}

func (stubHints) Generate(ctx context.Context, defects []model.Defect) ([]model.Defect, prompt.Stats) {
	out := make([]model.Defect, len(defects))
	copy(out, defects)
	for i := range out {
		out[i].FixPrompt = "stub hint"
	}
	return out, prompt.Stats{}
}

func newTestServer(t *testing.T, cfg server.Config, c app.Crawler, store *analytics.Store) (*httptest.Server, *app.Service) {
	t.Helper()
	logger := logging.NopLogger{}
	appCfg := app.DefaultConfig()
	orch := app.NewOrchestrator(appCfg, c, stubDriver{}, stubHints{}, nil, logger)
	svc := app.NewService(appCfg, registry.New(), orch, logger)

	srv := server.NewServer(cfg, svc, store, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, svc
}

func postScan(t *testing.T, base, url string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"url": url})
	resp, err := http.Post(base+"/api/scans", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/scans: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func waitComplete(t *testing.T, base, scanID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get(base + "/api/scans/" + scanID + "/report")
		if err != nil {
			t.Fatalf("GET report: %v", err)
		}
		body := decodeBody(t, resp)
		if body["status"] != string(model.ScanRunning) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("scan never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// --- tests ---

func TestStartScanValidation(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{}, &stubCrawler{}, nil)

	resp := postScan(t, ts.URL, "not-a-url")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "invalid_url" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestStartScanConflict(t *testing.T) {
	block := make(chan struct{})
	ts, _ := newTestServer(t, server.Config{}, &stubCrawler{block: block}, nil)

	first := postScan(t, ts.URL, "http://site.example")
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first scan status = %d, want 202", first.StatusCode)
	}
	firstBody := decodeBody(t, first)
	scanID, _ := firstBody["scanId"].(string)
	if scanID == "" {
		t.Fatal("missing scanId")
	}

	second := postScan(t, ts.URL, "http://other.example")
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second scan status = %d, want 409", second.StatusCode)
	}
	if body := decodeBody(t, second); body["code"] != "scan_in_progress" {
		t.Errorf("code = %v", body["code"])
	}

	close(block)
	waitComplete(t, ts.URL, scanID)
}

func TestGetReport(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{}, &stubCrawler{
		pages: []model.PageRecord{{URL: "http://site.example", Title: "Home"}},
	}, nil)

	resp, err := http.Get(ts.URL + "/api/scans/unknown/report")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown scan status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	started := postScan(t, ts.URL, "http://site.example")
	scanID := decodeBody(t, started)["scanId"].(string)
	waitComplete(t, ts.URL, scanID)

	resp, err = http.Get(ts.URL + "/api/scans/" + scanID + "/report")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if body["status"] != string(model.ScanComplete) {
		t.Fatalf("status = %v", body["status"])
	}
	if body["report"] == nil {
		t.Fatal("complete scan response missing report")
	}
}

func TestScanEventsStream(t *testing.T) {
	block := make(chan struct{})
	ts, _ := newTestServer(t, server.Config{}, &stubCrawler{
		block: block,
		pages: []model.PageRecord{{URL: "http://site.example", Title: "Home"}},
	}, nil)

	started := postScan(t, ts.URL, "http://site.example")
	scanID := decodeBody(t, started)["scanId"].(string)

	resp, err := http.Get(ts.URL + "/api/scans/" + scanID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	// Let the scan run to completion; the stream must then end on its own.
	close(block)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	stream := string(data)
	if !strings.Contains(stream, `"phase":"complete"`) {
		t.Errorf("stream missing terminal event: %q", stream)
	}
	if !strings.Contains(stream, `"progress":100`) {
		t.Errorf("stream missing 100%% event: %q", stream)
	}
}

func TestAdminAnalytics(t *testing.T) {
	store, err := analytics.Open(filepath.Join(t.TempDir(), "analytics.db"), logging.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.Record(context.Background(), model.AnalyticsRecord{
		Event:          "scan_complete",
		Domain:         "site.example",
		BugsByType:     map[model.DefectType]int{},
		BugsBySeverity: map[model.Severity]int{},
		TS:             time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	ts, _ := newTestServer(t, server.Config{AdminAPIKey: "secret"}, &stubCrawler{}, store)

	// Wrong key.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/admin/analytics", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong key status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Correct key.
	req.Header.Set("X-Admin-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	records, ok := body["records"].([]any)
	if !ok || len(records) != 1 {
		t.Fatalf("records = %v", body["records"])
	}
}

func TestAdminAnalyticsDisabledWithoutKey(t *testing.T) {
	ts, _ := newTestServer(t, server.Config{}, &stubCrawler{}, nil)

	resp, err := http.Get(ts.URL + "/api/admin/analytics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no admin key is configured", resp.StatusCode)
	}
}
