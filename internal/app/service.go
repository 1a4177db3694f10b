package app

import (
	"context"
	"fmt"
	"time"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/crawler"
	"github.com/storstekarn/VibeCheck/internal/driver"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/progress"
	"github.com/storstekarn/VibeCheck/internal/prompt"
	"github.com/storstekarn/VibeCheck/internal/promptcache"
	"github.com/storstekarn/VibeCheck/internal/registry"
	"github.com/storstekarn/VibeCheck/internal/tester"
	"github.com/storstekarn/VibeCheck/internal/urlutil"
)

// Service is the invocation surface the HTTP collaborator (and the CLI)
// talks to: start a scan, subscribe to its progress, fetch its outcome.
type Service struct {
	cfg      *Config
	logger   logging.Logger
	registry *registry.Registry
	orch     *Orchestrator
}

// NewService builds a Service around an orchestrator and a scan registry.
func NewService(cfg *Config, reg *registry.Registry, orch *Orchestrator, logger logging.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{cfg: cfg, logger: logger, registry: reg, orch: orch}
}

// NewDefaultService wires the production pipeline: chromedp crawler and
// page driver, tiered hint generator over cache, optional analytics sink.
func NewDefaultService(cfg *Config, cache *promptcache.Cache, sink AnalyticsSink, logger logging.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	testerCfg := tester.Config{
		AxeScriptURL: cfg.AxeScriptURL,
	}

	var client prompt.HintClient
	if cfg.OpenAIAPIKey != "" {
		client = prompt.NewOpenAIClient(cfg.OpenAIEndpoint, cfg.OpenAIAPIKey, cfg.OpenAIModel, logger.With(logging.Field{Key: "component", Value: "llm"}))
	}

	c := crawler.New(crawler.Config{
		MaxPages:       cfg.MaxPages,
		MaxConcurrency: cfg.CrawlConcurrency,
	}, logger.With(logging.Field{Key: "component", Value: "crawler"}))

	d := &browserDriver{
		testerCfg:     testerCfg,
		testerTimeout: cfg.TesterTimeout,
		logger:        logger.With(logging.Field{Key: "component", Value: "driver"}),
	}

	h := prompt.NewGenerator(cache, client, logger.With(logging.Field{Key: "component", Value: "prompts"}))

	orch := NewOrchestrator(cfg, c, d, h, sink, logger.With(logging.Field{Key: "component", Value: "orchestrator"}))
	return NewService(cfg, registry.New(), orch, logger)
}

// StartScan validates the seed, registers a running scan and spawns the
// pipeline in the background.
func (s *Service) StartScan(seedURL string) (string, error) {
	u, err := urlutil.ValidateSeed(seedURL)
	if err != nil {
		return "", fmt.Errorf("invalid seed url: %w", err)
	}

	sc, err := s.registry.StartScan(u.String())
	if err != nil {
		return "", err
	}

	s.logger.Info("scan started",
		logging.Field{Key: "scan_id", Value: sc.ID},
		logging.Field{Key: "seed", Value: sc.SeedURL})

	go s.run(sc)
	return sc.ID, nil
}

// run drives one scan to a terminal state. The terminal progress event is
// published only after the registry answers for the report, so a subscriber
// that sees 100 can immediately fetch the result.
func (s *Service) run(sc *registry.Scan) {
	rep, err := s.orch.Run(context.Background(), sc)
	if err != nil {
		s.logger.Error("scan failed",
			logging.Field{Key: "scan_id", Value: sc.ID},
			logging.Field{Key: "error", Value: err.Error()})
		s.registry.Fail(sc, err.Error())
		return
	}

	s.registry.Complete(sc, rep)
	sc.Publish(model.ProgressEvent{Phase: "complete", Message: "Scan complete!", Progress: 100})

	s.logger.Info("scan complete",
		logging.Field{Key: "scan_id", Value: sc.ID},
		logging.Field{Key: "pages", Value: rep.PagesFound},
		logging.Field{Key: "defects", Value: rep.Summary.TotalDefects})
}

// SubscribeProgress attaches a progress listener to a scan. The returned
// detach function is idempotent.
func (s *Service) SubscribeProgress(scanID string, fn progress.SubscriberFunc) (func(), error) {
	sc, err := s.registry.Get(scanID)
	if err != nil {
		return nil, err
	}
	return sc.Subscribe(fn), nil
}

// ScanState is the queryable outcome of a scan.
type ScanState struct {
	Status model.ScanStatus `json:"status"`
	Report *model.Report    `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// GetReport returns the scan's status, plus its report when complete or its
// failure message when errored.
func (s *Service) GetReport(scanID string) (ScanState, error) {
	sc, err := s.registry.Get(scanID)
	if err != nil {
		return ScanState{}, err
	}
	return ScanState{
		Status: sc.Status(),
		Report: sc.Report(),
		Error:  sc.Err(),
	}, nil
}

// browserDriver is the production PageDriver: one browser session per scan,
// the shared tester set run by the page driver.
type browserDriver struct {
	testerCfg     tester.Config
	testerTimeout time.Duration
	logger        logging.Logger

	session *browser.Session
	drv     *driver.Driver
}

func (b *browserDriver) Start(ctx context.Context) error {
	session, err := browser.NewSession(ctx, b.logger)
	if err != nil {
		return err
	}
	b.session = session
	b.drv = driver.New(tester.All(b.testerCfg, b.logger), b.testerTimeout, b.logger)
	return nil
}

func (b *browserDriver) TestPage(ctx context.Context, page *model.PageRecord) {
	b.drv.TestPage(ctx, b.session, page)
}

func (b *browserDriver) Close() {
	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
}
