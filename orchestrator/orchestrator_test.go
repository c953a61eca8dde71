package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-easm/database"
	"go-easm/fingerprint"
	"go-easm/models"
	"go-easm/nuclei"
)

type fakeScanner struct {
	calls   atomic.Int32
	execute func(ctx context.Context, req nuclei.Request) (*nuclei.Outcome, error)

	mu     sync.Mutex
	killed map[uint]chan struct{}
}

func (f *fakeScanner) Execute(ctx context.Context, req nuclei.Request) (*nuclei.Outcome, error) {
	f.calls.Add(1)
	return f.execute(ctx, req)
}

func (f *fakeScanner) killChan(id uint) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed == nil {
		f.killed = make(map[uint]chan struct{})
	}
	if _, ok := f.killed[id]; !ok {
		f.killed[id] = make(chan struct{})
	}
	return f.killed[id]
}

func (f *fakeScanner) Cancel(id uint) bool {
	close(f.killChan(id))
	return true
}

func returning(findings ...models.Finding) func(context.Context, nuclei.Request) (*nuclei.Outcome, error) {
	return func(context.Context, nuclei.Request) (*nuclei.Outcome, error) {
		return &nuclei.Outcome{
			Success:        true,
			Findings:       findings,
			SeverityCounts: nuclei.CountBySeverity(findings),
			Stdout:         "ok",
		}, nil
	}
}

func finding(path, severity string) models.Finding {
	return models.Finding{
		TemplateID:   "exposed-" + severity,
		TemplatePath: "/templates/exposed.yaml",
		Info:         models.FindingInfo{Name: "Exposed " + path, Severity: severity},
		Type:         "http",
		Host:         "https://example.com",
		MatchedAt:    "https://example.com" + path,
		Timestamp:    "2024-01-01T00:00:00Z",
	}
}

type denyAll struct{}

func (denyAll) Admit(context.Context) (func(), error) {
	return nil, fmt.Errorf("%w: too many scans", models.ErrAdmissionDenied)
}

type fixture struct {
	db      *database.DB
	scanner *fakeScanner
	svc     *Service
	asset   *models.Asset
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "easm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	asset, err := db.EnsureAsset(context.Background(), "https://example.com", "example")
	require.NoError(t, err)

	sc := &fakeScanner{execute: returning()}
	return &fixture{db: db, scanner: sc, svc: New(db, sc, opts...), asset: asset}
}

func (f *fixture) createScan(t *testing.T, overrides models.ConfigPatch) *models.Scan {
	t.Helper()
	scan, err := f.svc.CreateScan(context.Background(), CreateScanRequest{AssetID: f.asset.ID, Overrides: overrides, Actor: 1})
	require.NoError(t, err)
	return scan
}

func TestExecuteScan_NewFindings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.scanner.execute = returning(finding("/admin", "critical"), finding("/login", "high"))

	scan := f.createScan(t, models.ConfigPatch{Severities: []models.Severity{models.SeverityCritical, models.SeverityHigh}})
	assert.Equal(t, models.ScanPending, scan.Status)
	assert.Equal(t, "https://example.com", scan.Target)

	done, err := f.svc.ExecuteScan(ctx, scan.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ScanCompleted, done.Status)
	assert.Equal(t, 2, done.VulnerabilitiesFound)
	assert.Equal(t, 2, done.NewVulnerabilities)
	assert.Equal(t, map[models.Severity]int{models.SeverityCritical: 1, models.SeverityHigh: 1}, done.SeverityCounts)
	assert.NotEmpty(t, done.RunID)
	assert.NotNil(t, done.CompletedAt)

	stored, err := f.svc.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, stored.Status)
	assert.Equal(t, "ok", stored.Output)

	n, err := f.db.CountVulnerabilities(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	v, err := f.db.FindVulnerability(ctx, f.asset.ID, fingerprint.Compute("exposed-critical", "https://example.com/admin"))
	require.NoError(t, err)
	assert.Equal(t, models.StateNew, v.State)
	assert.Equal(t, 1, v.Occurrences)

	asset, err := f.db.GetAsset(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.NotNil(t, asset.LastScannedAt)
}

func TestExecuteScan_RerunIncrementsOccurrences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.scanner.execute = returning(finding("/admin", "critical"), finding("/login", "high"))

	first := f.createScan(t, models.ConfigPatch{})
	_, err := f.svc.ExecuteScan(ctx, first.ID)
	require.NoError(t, err)

	fp := fingerprint.Compute("exposed-critical", "https://example.com/admin")
	before, err := f.db.FindVulnerability(ctx, f.asset.ID, fp)
	require.NoError(t, err)

	f.scanner.execute = returning(finding("/admin", "critical"))
	second := f.createScan(t, models.ConfigPatch{})
	done, err := f.svc.ExecuteScan(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, done.NewVulnerabilities)
	assert.Equal(t, 1, done.VulnerabilitiesFound)

	n, err := f.db.CountVulnerabilities(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	after, err := f.db.FindVulnerability(ctx, f.asset.ID, fp)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Occurrences)
	assert.Equal(t, second.ID, after.LastScanID)
	assert.Equal(t, first.ID, after.ScanID)
	assert.False(t, after.LastSeenAt.Before(before.LastSeenAt))
}

func TestExecuteScan_CancelledAfterScannerExitKeepsNoResults(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.scanner.execute = func(_ context.Context, req nuclei.Request) (*nuclei.Outcome, error) {
		// The process already exited when the cancel lands.
		_, err := f.db.CancelScan(ctx, req.ScanID, time.Now())
		require.NoError(t, err)
		return returning(finding("/admin", "critical"))(ctx, req)
	}

	scan := f.createScan(t, models.ConfigPatch{})
	done, err := f.svc.ExecuteScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCancelled, done.Status)

	n, err := f.db.CountVulnerabilities(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecuteScan_ScannerFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.scanner.execute = func(context.Context, nuclei.Request) (*nuclei.Outcome, error) {
		return &nuclei.Outcome{ExitCode: 1, Stderr: "templates missing\n", Error: "templates missing"}, nil
	}

	scan := f.createScan(t, models.ConfigPatch{})
	done, err := f.svc.ExecuteScan(ctx, scan.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ScanFailed, done.Status)
	assert.Equal(t, "templates missing", done.ErrorMessage)
	assert.Equal(t, 1, done.ExitCode)

	n, err := f.db.CountVulnerabilities(ctx, f.asset.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecuteScan_ErrorAfterClaimFinalizesFailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.scanner.execute = func(context.Context, nuclei.Request) (*nuclei.Outcome, error) {
		return nil, fmt.Errorf("%w: nuclei scan timeout after 1m0s", models.ErrTimeout)
	}

	scan := f.createScan(t, models.ConfigPatch{})
	done, err := f.svc.ExecuteScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrTimeout)
	require.NotNil(t, done)

	stored, err := f.svc.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "timeout")
	assert.NotNil(t, stored.CompletedAt)
}

func TestExecuteScan_RejectsNonRunnable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	scan := f.createScan(t, models.ConfigPatch{})
	_, err := f.svc.ExecuteScan(ctx, scan.ID)
	require.NoError(t, err)

	_, err = f.svc.ExecuteScan(ctx, scan.ID)
	var ise *models.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, models.ScanCompleted, ise.Current)
	assert.Equal(t, int32(1), f.scanner.calls.Load())

	_, err = f.svc.ExecuteScan(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExecuteScan_ConcurrentCallersRunOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	release := make(chan struct{})
	f.scanner.execute = func(context.Context, nuclei.Request) (*nuclei.Outcome, error) {
		<-release
		return &nuclei.Outcome{Success: true}, nil
	}

	scan := f.createScan(t, models.ConfigPatch{})

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := f.svc.ExecuteScan(ctx, scan.ID)
			errs <- err
		}()
	}

	// Every loser returns before the winner is released.
	for i := 0; i < callers-1; i++ {
		assert.ErrorIs(t, <-errs, models.ErrInvalidState)
	}
	close(release)
	assert.NoError(t, <-errs)
	assert.Equal(t, int32(1), f.scanner.calls.Load())
}

func TestExecuteScan_AdmissionDenied(t *testing.T) {
	f := setup(t, WithAdmitter(denyAll{}))
	ctx := context.Background()

	scan := f.createScan(t, models.ConfigPatch{})
	_, err := f.svc.ExecuteScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrAdmissionDenied)
	assert.Zero(t, f.scanner.calls.Load())

	stored, err := f.svc.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanPending, stored.Status)
}

func TestCancelScan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	scan := f.createScan(t, models.ConfigPatch{})
	cancelled, err := f.svc.CancelScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = f.svc.CancelScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = f.svc.ExecuteScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Zero(t, f.scanner.calls.Load())
}

func TestCancelScan_Running(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	started := make(chan struct{})
	f.scanner.execute = func(_ context.Context, req nuclei.Request) (*nuclei.Outcome, error) {
		close(started)
		<-f.scanner.killChan(req.ScanID)
		return nil, fmt.Errorf("%w: process of scan %d was killed", models.ErrCancelled, req.ScanID)
	}

	scan := f.createScan(t, models.ConfigPatch{})
	type result struct {
		scan *models.Scan
		err  error
	}
	done := make(chan result, 1)
	go func() {
		s, err := f.svc.ExecuteScan(ctx, scan.ID)
		done <- result{s, err}
	}()

	<-started
	_, err := f.svc.CancelScan(ctx, scan.ID)
	require.NoError(t, err)

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, models.ErrCancelled)
		assert.Equal(t, models.ScanCancelled, res.scan.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteScan did not return after CancelScan")
	}

	stored, err := f.svc.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCancelled, stored.Status)
}

func TestCreateScan_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateScan(ctx, CreateScanRequest{AssetID: 999})
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.ErrorIs(t, err, models.ErrNotFound)

	missing := uint(999)
	_, err = f.svc.CreateScan(ctx, CreateScanRequest{AssetID: f.asset.ID, TemplateID: &missing})
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.ErrorIs(t, err, models.ErrNotFound)

	rate := 5000
	_, err = f.svc.CreateScan(ctx, CreateScanRequest{AssetID: f.asset.ID, Overrides: models.ConfigPatch{RateLimit: &rate}})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.CreateScan(ctx, CreateScanRequest{AssetID: f.asset.ID, Target: "https://"})
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, f.db.SetAssetScanEnabled(ctx, f.asset.ID, false))
	_, err = f.svc.CreateScan(ctx, CreateScanRequest{AssetID: f.asset.ID})
	assert.ErrorIs(t, err, models.ErrConfiguration)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestCreateScan_MergesTemplate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	rate, bulk := 10, 5
	tpl, err := f.svc.CreateTemplate(ctx, &models.ScanTemplate{
		Name:  " quick ",
		Patch: models.ConfigPatch{RateLimit: &rate, BulkSize: &bulk, Tags: []string{"cve"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "quick", tpl.Name)

	override := 20
	scan, err := f.svc.CreateScan(ctx, CreateScanRequest{
		AssetID:    f.asset.ID,
		TemplateID: &tpl.ID,
		Overrides:  models.ConfigPatch{RateLimit: &override},
	})
	require.NoError(t, err)

	assert.Equal(t, 20, scan.Config.RateLimit)
	assert.Equal(t, 5, scan.Config.BulkSize)
	assert.Equal(t, []string{"cve"}, scan.Config.Tags)
	assert.Equal(t, models.DefaultScanConfig().Timeout, scan.Config.Timeout)

	got, err := f.svc.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)
}

func TestCreateTemplate_Invalid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateTemplate(ctx, &models.ScanTemplate{Name: "  "})
	assert.ErrorIs(t, err, models.ErrValidation)

	timeout := 5
	_, err = f.svc.CreateTemplate(ctx, &models.ScanTemplate{Name: "bad", Patch: models.ConfigPatch{Timeout: &timeout}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestQueueScan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	scan := f.createScan(t, models.ConfigPatch{})
	queued, err := f.svc.QueueScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanQueued, queued.Status)

	_, err = f.svc.QueueScan(ctx, scan.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	done, err := f.svc.ExecuteScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, done.Status)
}

func TestRecoverScans(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	running := f.createScan(t, models.ConfigPatch{})
	_, err := f.db.ClaimScan(ctx, running.ID, "lost-run", time.Now())
	require.NoError(t, err)

	queued := f.createScan(t, models.ConfigPatch{})
	_, err = f.svc.QueueScan(ctx, queued.ID)
	require.NoError(t, err)

	pending := f.createScan(t, models.ConfigPatch{})

	ids, err := f.svc.RecoverScans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{queued.ID}, ids)

	stored, err := f.svc.GetScan(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.NotNil(t, stored.CompletedAt)

	stored, err = f.svc.GetScan(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanPending, stored.Status)

	// The recovered queued scan runs normally.
	done, err := f.svc.ExecuteScan(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, done.Status)
}
