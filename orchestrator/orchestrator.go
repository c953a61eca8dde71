// Package orchestrator owns the lifecycle of scans, from creation to the
// persisted results of the scanner run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go-easm/ingest"
	"go-easm/models"
	"go-easm/nuclei"
)

// AssetStore gives access to the asset inventory.
type AssetStore interface {
	GetAsset(ctx context.Context, id uint) (*models.Asset, error)
	MarkAssetScanned(ctx context.Context, id uint, at time.Time) error
}

// TemplateStore persists scan templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *models.ScanTemplate) error
	GetTemplate(ctx context.Context, id uint) (*models.ScanTemplate, error)
}

// ScanStore persists scans. Every status change is a conditional update
// that fails with *models.InvalidStateError when the current status is not
// one of the expected ones.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *models.Scan) error
	GetScan(ctx context.Context, id uint) (*models.Scan, error)
	QueueScan(ctx context.Context, id uint) (*models.Scan, error)
	ClaimScan(ctx context.Context, id uint, runID string, startedAt time.Time) (*models.Scan, error)
	CancelScan(ctx context.Context, id uint, at time.Time) (*models.Scan, error)
	FinalizeScan(ctx context.Context, scan *models.Scan) error
	ListScanIDs(ctx context.Context, statuses ...models.ScanStatus) ([]uint, error)
}

// Store groups every store the Service needs.
type Store interface {
	AssetStore
	TemplateStore
	ScanStore
	ingest.Store
}

// Scanner runs the external scanner.
type Scanner interface {
	Execute(ctx context.Context, req nuclei.Request) (*nuclei.Outcome, error)
	Cancel(scanID uint) bool
}

// Admitter decides whether another scan may start. release must be called
// once the scan is done.
type Admitter interface {
	Admit(ctx context.Context) (release func(), err error)
}

// Metrics receives scan lifecycle events.
type Metrics interface {
	ScanStarted()
	ScanFinished(status models.ScanStatus, d time.Duration)
	ScanCancelled()
	Findings(counts map[models.Severity]int)
	VulnerabilitiesCreated(n int)
}

// Service defines the scan orchestrator.
type Service struct {
	store    Store
	scanner  Scanner
	ingester *ingest.Ingester
	admitter Admitter
	metrics  Metrics
	defaults models.ScanConfig
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAdmitter sets the admission check run before a scan is claimed.
func WithAdmitter(a Admitter) Option {
	return func(s *Service) { s.admitter = a }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDefaults sets the global configuration defaults merged under
// templates and overrides.
func WithDefaults(cfg models.ScanConfig) Option {
	return func(s *Service) { s.defaults = cfg }
}

// New returns a new *Service.
func New(store Store, scanner Scanner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		scanner:  scanner,
		ingester: ingest.New(store),
		admitter: noLimit{},
		metrics:  noMetrics{},
		defaults: models.DefaultScanConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns the global configuration defaults.
func (s *Service) Defaults() models.ScanConfig {
	return s.defaults
}

// CreateScanRequest defines the input of CreateScan.
type CreateScanRequest struct {
	AssetID    uint               `json:"asset_id"`
	TemplateID *uint              `json:"template_id,omitempty"`
	Target     string             `json:"target,omitempty"` // defaults to the asset value
	Name       string             `json:"name,omitempty"`
	Overrides  models.ConfigPatch `json:"config"`
	Actor      models.UserID      `json:"-"`
}

// CreateScan persists a pending scan with its resolved configuration.
func (s *Service) CreateScan(ctx context.Context, req CreateScanRequest) (*models.Scan, error) {
	asset, err := s.store.GetAsset(ctx, req.AssetID)
	if err != nil {
		return nil, configurationError(err)
	}
	if !asset.ScanEnabled {
		return nil, fmt.Errorf("%w: scanning is disabled for asset %d", models.ErrConfiguration, asset.ID)
	}

	var tpl *models.ScanTemplate
	if req.TemplateID != nil {
		if tpl, err = s.store.GetTemplate(ctx, *req.TemplateID); err != nil {
			return nil, configurationError(err)
		}
	}

	cfg := models.MergeConfig(s.defaults, tpl, req.Overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	raw := req.Target
	if strings.TrimSpace(raw) == "" {
		raw = asset.Value
	}
	target, err := models.NormalizeTarget(raw)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Nuclei scan of %s", target)
	}

	scan := &models.Scan{
		Name:       name,
		AssetID:    asset.ID,
		Target:     target,
		TemplateID: req.TemplateID,
		Status:     models.ScanPending,
		Config:     cfg,
		CreatedBy:  req.Actor,
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"scan_id": scan.ID, "asset_id": asset.ID}).Infof("Created scan of %s", target)
	return scan, nil
}

// QueueScan marks a pending scan as waiting for execution.
func (s *Service) QueueScan(ctx context.Context, id uint) (*models.Scan, error) {
	return s.store.QueueScan(ctx, id)
}

// ExecuteScan runs a pending or queued scan to completion.
//
// The scan is claimed with a conditional update, so concurrent callers
// never run the scanner twice for the same scan. Any error after the claim
// marks the scan FAILED before it is returned. A scan cancelled while it
// runs stays CANCELLED.
func (s *Service) ExecuteScan(ctx context.Context, id uint) (*models.Scan, error) {
	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if scan.Status != models.ScanPending && scan.Status != models.ScanQueued {
		return nil, &models.InvalidStateError{ScanID: id, Current: scan.Status, Wanted: models.ScanRunning}
	}

	release, err := s.admitter.Admit(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrAdmissionDenied) {
			err = fmt.Errorf("%w: %w", models.ErrAdmissionDenied, err)
		}
		return nil, err
	}
	defer release()

	runID := uuid.NewString()
	scan, err = s.store.ClaimScan(ctx, id, runID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.metrics.ScanStarted()

	log := logrus.WithFields(logrus.Fields{"scan_id": id, "run_id": runID})
	log.Infof("Starting scan of %s", scan.Target)

	out, err := s.scanner.Execute(ctx, nuclei.Request{
		ScanID:  scan.ID,
		Targets: []string{scan.Target},
		Config:  scan.Config,
	})
	if err != nil {
		return s.fail(ctx, scan, err)
	}

	scan.VulnerabilitiesFound = len(out.Findings)
	scan.SeverityCounts = out.SeverityCounts
	scan.Output = out.Stdout
	scan.ErrorOutput = out.Stderr
	scan.ExitCode = out.ExitCode
	s.metrics.Findings(out.SeverityCounts)

	if out.Success {
		// A scan cancelled after the scanner exited keeps no results.
		current, err := s.store.GetScan(ctx, scan.ID)
		if err != nil {
			return s.fail(ctx, scan, err)
		}
		if current.Status != models.ScanRunning {
			return s.finalize(ctx, scan)
		}

		res, err := s.ingester.Ingest(ctx, scan, out.Findings)
		if err != nil {
			return s.fail(ctx, scan, fmt.Errorf("ingest findings: %w", err))
		}
		scan.NewVulnerabilities = len(res.Created)
		s.metrics.VulnerabilitiesCreated(len(res.Created))
		scan.Status = models.ScanCompleted
	} else {
		scan.Status = models.ScanFailed
		scan.ErrorMessage = out.Error
	}

	return s.finalize(ctx, scan)
}

// fail finalizes a running scan as FAILED and returns cause.
func (s *Service) fail(ctx context.Context, scan *models.Scan, cause error) (*models.Scan, error) {
	scan.Status = models.ScanFailed
	scan.ErrorMessage = cause.Error()

	logrus.WithFields(logrus.Fields{"scan_id": scan.ID, "run_id": scan.RunID}).Errorf("Scan failed: %v", cause)

	final, err := s.finalize(ctx, scan)
	if err != nil {
		return final, errors.Join(cause, err)
	}
	return final, cause
}

// finalize persists the terminal status of a running scan.
func (s *Service) finalize(ctx context.Context, scan *models.Scan) (*models.Scan, error) {
	// The outcome must be recorded even when the caller gave up.
	ctx = context.WithoutCancel(ctx)
	log := logrus.WithFields(logrus.Fields{"scan_id": scan.ID, "run_id": scan.RunID})

	now := s.now().UTC()
	scan.CompletedAt = &now
	if scan.StartedAt != nil {
		scan.Duration = now.Sub(*scan.StartedAt)
	}

	if err := s.store.FinalizeScan(ctx, scan); err != nil {
		if !errors.Is(err, models.ErrInvalidState) {
			s.metrics.ScanFinished(models.ScanFailed, scan.Duration)
			return scan, fmt.Errorf("finalize scan %d: %w", scan.ID, err)
		}

		// Cancelled while running, the cancellation wins.
		stored, gerr := s.store.GetScan(ctx, scan.ID)
		if gerr != nil {
			return scan, gerr
		}
		log.Warnf("Scan left the running status as %s, results not recorded", stored.Status)
		s.metrics.ScanFinished(stored.Status, scan.Duration)
		return stored, nil
	}

	s.metrics.ScanFinished(scan.Status, scan.Duration)
	if err := s.store.MarkAssetScanned(ctx, scan.AssetID, now); err != nil {
		log.Errorf("failed to update last scan of asset %d: %v", scan.AssetID, err)
	}

	log.Infof("Scan %s in %s: %d findings, %d new vulnerabilities", scan.Status, scan.Duration.Round(time.Millisecond), scan.VulnerabilitiesFound, scan.NewVulnerabilities)
	return scan, nil
}

// CancelScan cancels a scan that has not finished. The process of a
// running scan is killed.
func (s *Service) CancelScan(ctx context.Context, id uint) (*models.Scan, error) {
	prev, err := s.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}

	scan, err := s.store.CancelScan(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}

	log := logrus.WithField("scan_id", id)
	if prev.Status == models.ScanRunning {
		if s.scanner.Cancel(id) {
			log.Info("Scan cancelled, scanner process killed")
		} else {
			log.Warn("Scan cancelled, no live scanner process found")
		}
		return scan, nil
	}

	s.metrics.ScanCancelled()
	log.Info("Scan cancelled before it started")
	return scan, nil
}

// RecoverScans repairs the scans a previous process left behind. Running
// scans lost their scanner process and are failed. The ids of queued scans
// are returned so they can be dispatched again.
func (s *Service) RecoverScans(ctx context.Context) ([]uint, error) {
	running, err := s.store.ListScanIDs(ctx, models.ScanRunning)
	if err != nil {
		return nil, err
	}
	for _, id := range running {
		scan, err := s.store.GetScan(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		scan.Status = models.ScanFailed
		scan.ErrorMessage = "scan interrupted by a service restart"
		scan.CompletedAt = &now
		if scan.StartedAt != nil {
			scan.Duration = now.Sub(*scan.StartedAt)
		}
		if err := s.store.FinalizeScan(ctx, scan); err != nil && !errors.Is(err, models.ErrInvalidState) {
			return nil, err
		}
		logrus.WithField("scan_id", id).Warn("Interrupted scan marked as failed")
	}

	queued, err := s.store.ListScanIDs(ctx, models.ScanQueued)
	if err != nil {
		return nil, err
	}
	if len(running)+len(queued) > 0 {
		logrus.Infof("Recovered %d interrupted and %d queued scans", len(running), len(queued))
	}
	return queued, nil
}

// CreateTemplate persists a reusable configuration preset.
func (s *Service) CreateTemplate(ctx context.Context, tpl *models.ScanTemplate) (*models.ScanTemplate, error) {
	tpl.Name = strings.TrimSpace(tpl.Name)
	if tpl.Name == "" {
		return nil, fmt.Errorf("%w: template name is required", models.ErrValidation)
	}
	if err := models.MergeConfig(s.defaults, tpl, models.ConfigPatch{}).Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	logrus.Infof("Created scan template %q (%d)", tpl.Name, tpl.ID)
	return tpl, nil
}

// GetScan returns the scan with the given id.
func (s *Service) GetScan(ctx context.Context, id uint) (*models.Scan, error) {
	return s.store.GetScan(ctx, id)
}

// GetTemplate returns the scan template with the given id.
func (s *Service) GetTemplate(ctx context.Context, id uint) (*models.ScanTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

func configurationError(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, err)
	}
	return err
}

type noLimit struct{}

func (noLimit) Admit(context.Context) (func(), error) {
	return func() {}, nil
}

type noMetrics struct{}

func (noMetrics) ScanStarted()                                  {}
func (noMetrics) ScanFinished(models.ScanStatus, time.Duration) {}
func (noMetrics) ScanCancelled()                                {}
func (noMetrics) Findings(map[models.Severity]int)              {}
func (noMetrics) VulnerabilitiesCreated(int)                    {}
