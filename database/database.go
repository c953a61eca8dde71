// Package database implements every store contract of the scan pipeline on
// top of SQLite through gorm.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go-easm/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB defines the database instance containing the
// connection to the SQLite type database.
type DB struct {
	conn *gorm.DB
}

// New returns a new *DB instance backed by the SQLite file at path.
func New(path string) (*DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection serializes writers in
	// the pool instead of failing them with SQLITE_BUSY.
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err = db.Migrate(); err != nil {
		return nil, err
	}
	return db, err
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_foreign_keys=on"
}

// Migrate migrates the current database structures.
func (db *DB) Migrate() error {
	return db.conn.AutoMigrate(&AssetDB{}, &ScanTemplateDB{}, &ScanDB{}, &VulnerabilityDB{}, &VulnerabilityEventDB{})
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

// GetAsset fetches an asset by id.
func (db *DB) GetAsset(ctx context.Context, id uint) (*models.Asset, error) {
	var row AssetDB
	if err := db.conn.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "asset", id)
	}
	return row.toModel(), nil
}

// EnsureAsset returns the asset with the given value, creating a
// scan-enabled one when it does not exist yet.
func (db *DB) EnsureAsset(ctx context.Context, value, name string) (*models.Asset, error) {
	var row AssetDB
	err := db.conn.WithContext(ctx).
		Where(AssetDB{Value: value}).
		Attrs(AssetDB{Name: name, ScanEnabled: true}).
		FirstOrCreate(&row).Error
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// SetAssetScanEnabled toggles whether an asset may be scanned.
func (db *DB) SetAssetScanEnabled(ctx context.Context, id uint, enabled bool) error {
	res := db.conn.WithContext(ctx).Model(&AssetDB{}).Where("id = ?", id).Update("scan_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &models.NotFoundError{Entity: "asset", ID: id}
	}
	return nil
}

// MarkAssetScanned moves the last-scanned marker of an asset.
func (db *DB) MarkAssetScanned(ctx context.Context, id uint, at time.Time) error {
	return db.conn.WithContext(ctx).Model(&AssetDB{}).Where("id = ?", id).Update("last_scanned_at", at).Error
}

// CreateTemplate saves a new scan template and sets its id.
func (db *DB) CreateTemplate(ctx context.Context, tpl *models.ScanTemplate) error {
	var row ScanTemplateDB
	row.Fill(tpl)
	if err := db.conn.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	tpl.ID = row.ID
	tpl.CreatedAt = row.CreatedAt
	return nil
}

// GetTemplate fetches a scan template by id.
func (db *DB) GetTemplate(ctx context.Context, id uint) (*models.ScanTemplate, error) {
	var row ScanTemplateDB
	if err := db.conn.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "scan template", id)
	}
	return row.toModel(), nil
}

// GetTemplateByName fetches a scan template by its unique name.
func (db *DB) GetTemplateByName(ctx context.Context, name string) (*models.ScanTemplate, error) {
	var row ScanTemplateDB
	if err := db.conn.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scan template %q: %w", name, models.ErrNotFound)
		}
		return nil, err
	}
	return row.toModel(), nil
}

// CreateScan saves a new scan and sets its id.
func (db *DB) CreateScan(ctx context.Context, scan *models.Scan) error {
	var row ScanDB
	row.Fill(scan)
	if err := db.conn.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	scan.ID = row.ID
	scan.CreatedAt = row.CreatedAt
	return nil
}

// GetScan fetches a scan by id.
func (db *DB) GetScan(ctx context.Context, id uint) (*models.Scan, error) {
	var row ScanDB
	if err := db.conn.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "scan", id)
	}
	return row.toModel(), nil
}

// ListScanIDs returns the ids of the scans in one of statuses, oldest first.
func (db *DB) ListScanIDs(ctx context.Context, statuses ...models.ScanStatus) ([]uint, error) {
	var ids []uint
	err := db.conn.WithContext(ctx).Model(&ScanDB{}).
		Where("status IN ?", statuses).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}

// transitionScan writes fields and the new status in one statement, only if
// the current status of the scan is one of from. It returns the updated scan.
func (db *DB) transitionScan(ctx context.Context, id uint, from []models.ScanStatus, to models.ScanStatus, fields map[string]any) (*models.Scan, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	updates := map[string]any{"status": string(to)}
	for k, v := range fields {
		updates[k] = v
	}

	var row ScanDB
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ScanDB{}).Where("id = ? AND status IN ?", id, statuses).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&row, id).Error; err != nil {
			return notFound(err, "scan", id)
		}
		if res.RowsAffected == 0 {
			return &models.InvalidStateError{ScanID: id, Current: models.ScanStatus(row.Status), Wanted: to}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// QueueScan moves a pending scan to the queue.
func (db *DB) QueueScan(ctx context.Context, id uint) (*models.Scan, error) {
	return db.transitionScan(ctx, id, []models.ScanStatus{models.ScanPending}, models.ScanQueued, nil)
}

// ClaimScan moves a runnable scan to running. Only one caller can claim a scan.
func (db *DB) ClaimScan(ctx context.Context, id uint, runID string, startedAt time.Time) (*models.Scan, error) {
	return db.transitionScan(ctx, id, models.Runnable, models.ScanRunning, map[string]any{
		"run_id":     runID,
		"started_at": startedAt,
	})
}

// CancelScan moves a scan that has not finished to cancelled.
func (db *DB) CancelScan(ctx context.Context, id uint, at time.Time) (*models.Scan, error) {
	return db.transitionScan(ctx, id, models.Cancellable, models.ScanCancelled, map[string]any{
		"completed_at": at,
	})
}

// FinalizeScan writes the terminal status and the results of a running
// scan. A scan that left the running status meanwhile is not touched.
func (db *DB) FinalizeScan(ctx context.Context, scan *models.Scan) error {
	var row ScanDB
	row.Fill(scan)

	_, err := db.transitionScan(ctx, scan.ID, []models.ScanStatus{models.ScanRunning}, scan.Status, map[string]any{
		"completed_at":          row.CompletedAt,
		"duration_ms":           row.DurationMs,
		"vulnerabilities_found": row.VulnerabilitiesFound,
		"new_vulnerabilities":   row.NewVulnerabilities,
		"severity_counts":       row.SeverityCounts,
		"output":                row.Output,
		"error_output":          row.ErrorOutput,
		"exit_code":             row.ExitCode,
		"error_message":         row.ErrorMessage,
	})
	return err
}

// UpsertVulnerability inserts v unless its asset already has a row with the
// same fingerprint, in which case that row's occurrences are incremented and
// its last-seen marker moved. Both paths run in one transaction and rely on
// the idx_asset_fingerprint constraint, so concurrent callers never create
// duplicates nor lose an increment.
func (db *DB) UpsertVulnerability(ctx context.Context, v *models.Vulnerability) (bool, error) {
	var row VulnerabilityDB
	row.Fill(v)

	created := false
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_id"}, {Name: "fingerprint"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			created = true
			return nil
		}

		return tx.Model(&VulnerabilityDB{}).
			Where("asset_id = ? AND fingerprint = ?", v.AssetID, v.Fingerprint).
			Updates(map[string]any{
				"occurrences":  gorm.Expr("occurrences + ?", 1),
				"last_seen_at": v.LastSeenAt,
				"last_scan_id": v.LastScanID,
			}).Error
	})
	if err != nil {
		return false, err
	}

	if created {
		v.ID = row.ID
	}
	logrus.Debugf("Upserted vulnerability %s on asset %d (created=%t)", v.Fingerprint, v.AssetID, created)
	return created, nil
}

// GetVulnerability fetches a vulnerability by id.
func (db *DB) GetVulnerability(ctx context.Context, id uint) (*models.Vulnerability, error) {
	var row VulnerabilityDB
	if err := db.conn.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err, "vulnerability", id)
	}
	return row.toModel(), nil
}

// FindVulnerability fetches the vulnerability of an asset by fingerprint.
func (db *DB) FindVulnerability(ctx context.Context, assetID uint, fingerprint string) (*models.Vulnerability, error) {
	var row VulnerabilityDB
	err := db.conn.WithContext(ctx).Where("asset_id = ? AND fingerprint = ?", assetID, fingerprint).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("vulnerability %s on asset %d: %w", fingerprint, assetID, models.ErrNotFound)
		}
		return nil, err
	}
	return row.toModel(), nil
}

// CountVulnerabilities returns the number of vulnerabilities of an asset.
func (db *DB) CountVulnerabilities(ctx context.Context, assetID uint) (int64, error) {
	var n int64
	err := db.conn.WithContext(ctx).Model(&VulnerabilityDB{}).Where("asset_id = ?", assetID).Count(&n).Error
	return n, err
}

// SaveVulnerabilityWithEvent writes the workflow fields of v and appends ev
// in one transaction, provided the stored state still equals expected.
func (db *DB) SaveVulnerabilityWithEvent(ctx context.Context, v *models.Vulnerability, expected models.VulnState, ev *models.VulnerabilityEvent) error {
	var row VulnerabilityDB
	row.Fill(v)

	var evRow VulnerabilityEventDB
	evRow.Fill(ev)

	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&VulnerabilityDB{}).
			Where("id = ? AND state = ?", v.ID, string(expected)).
			Updates(map[string]any{
				"state":            row.State,
				"assigned_to":      row.AssignedTo,
				"risk_reason":      row.RiskReason,
				"state_changed_by": row.StateChangedBy,
				"state_changed_at": row.StateChangedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&VulnerabilityDB{}).Where("id = ?", v.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return &models.NotFoundError{Entity: "vulnerability", ID: v.ID}
			}
			return fmt.Errorf("%w: vulnerability %d is no longer %s", models.ErrInvalidState, v.ID, expected)
		}
		return tx.Create(&evRow).Error
	})
	if err != nil {
		return err
	}

	ev.ID = evRow.ID
	return nil
}

// ListEvents returns the audit trail of a vulnerability, oldest first.
func (db *DB) ListEvents(ctx context.Context, vulnerabilityID uint) ([]models.VulnerabilityEvent, error) {
	var rows []VulnerabilityEventDB
	err := db.conn.WithContext(ctx).Where("vulnerability_id = ?", vulnerabilityID).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	events := make([]models.VulnerabilityEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toModel()
	}
	return events, nil
}
