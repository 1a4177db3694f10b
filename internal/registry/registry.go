// Package registry tracks every scan started during the process lifetime.
// Scans are never removed; finished ones keep their report (or error) so the
// HTTP surface can answer for them after the progress stream has ended.
package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/progress"
)

var (
	ErrScanNotFound   = errors.New("scan not found")
	ErrScanInProgress = errors.New("another scan is already running")
)

// Scan is one scan's identity, lifecycle state and progress bus. Status
// transitions are one-way: running -> complete or running -> error.
type Scan struct {
	ID      string
	SeedURL string

	mu           sync.Mutex
	status       model.ScanStatus
	report       *model.Report
	errMsg       string
	lastProgress int

	bus *progress.Bus
}

// Status returns the scan's current lifecycle state.
func (s *Scan) Status() model.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Report returns the final report, nil unless the scan completed.
func (s *Scan) Report() *model.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Err returns the human-readable failure message, empty unless errored.
func (s *Scan) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Subscribe attaches a progress listener and returns an idempotent detach.
func (s *Scan) Subscribe(fn progress.SubscriberFunc) func() {
	return s.bus.Subscribe(fn)
}

// Publish pushes a progress event to subscribers. The progress percent is
// clamped so it never decreases over the scan's lifetime.
func (s *Scan) Publish(ev model.ProgressEvent) {
	s.mu.Lock()
	if ev.Progress < s.lastProgress {
		ev.Progress = s.lastProgress
	} else {
		s.lastProgress = ev.Progress
	}
	s.mu.Unlock()

	s.bus.Publish(ev)
}

// Registry is the process-wide scan table. A single scan may run at a time.
type Registry struct {
	mu        sync.Mutex
	scans     map[string]*Scan
	runningID string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{scans: map[string]*Scan{}}
}

// StartScan registers a new running scan, or fails with ErrScanInProgress
// when another scan has not reached a terminal state yet.
func (r *Registry) StartScan(seedURL string) (*Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningID != "" {
		return nil, ErrScanInProgress
	}

	s := &Scan{
		ID:      uuid.New().String(),
		SeedURL: seedURL,
		status:  model.ScanRunning,
		bus:     progress.NewBus(),
	}
	r.scans[s.ID] = s
	r.runningID = s.ID
	return s, nil
}

// Get returns a scan by id.
func (r *Registry) Get(id string) (*Scan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, ErrScanNotFound
	}
	return s, nil
}

// Complete transitions a running scan to complete with its report.
func (r *Registry) Complete(s *Scan, report *model.Report) {
	s.mu.Lock()
	if s.status == model.ScanRunning {
		s.status = model.ScanComplete
		s.report = report
	}
	s.mu.Unlock()

	r.release(s.ID)
}

// Fail transitions a running scan to error with a short human message.
func (r *Registry) Fail(s *Scan, msg string) {
	s.mu.Lock()
	if s.status == model.ScanRunning {
		s.status = model.ScanError
		s.errMsg = msg
	}
	s.mu.Unlock()

	r.release(s.ID)
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	if r.runningID == id {
		r.runningID = ""
	}
	r.mu.Unlock()
}
