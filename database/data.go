package database

import (
	"time"

	"go-easm/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AssetDB defines the asset table. Assets are owned by the inventory; this
// repository only reads them and moves their last-scanned marker.
type AssetDB struct {
	gorm.Model
	Value         string `gorm:"uniqueIndex;not null"`
	Name          string
	ScanEnabled   bool
	LastScannedAt *time.Time
}

// ScanTemplateDB defines the scan template table.
type ScanTemplateDB struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;not null"`
	Description string
	Config      datatypes.JSONType[models.ConfigPatch]
}

// ScanDB defines the scan table.
type ScanDB struct {
	gorm.Model
	Name       string
	AssetID    uint   `gorm:"index;not null"`
	Target     string `gorm:"not null"`
	TemplateID *uint
	Status     string `gorm:"index;size:16;not null"`
	Config     datatypes.JSONType[models.ScanConfig]
	CreatedBy  uint
	RunID      string `gorm:"size:36"`

	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  int64

	VulnerabilitiesFound int
	NewVulnerabilities   int
	SeverityCounts       datatypes.JSONType[map[models.Severity]int]

	Output       string
	ErrorOutput  string
	ExitCode     int
	ErrorMessage string
}

// VulnerabilityDB defines the vulnerability table. Rows are never soft
// deleted so the (asset_id, fingerprint) constraint always sees every row.
type VulnerabilityDB struct {
	ID          uint `gorm:"primarykey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AssetID     uint   `gorm:"uniqueIndex:idx_asset_fingerprint;not null"`
	Fingerprint string `gorm:"uniqueIndex:idx_asset_fingerprint;size:64;not null"`
	ScanID      uint   `gorm:"index"`
	LastScanID  uint

	TemplateID       string `gorm:"index"`
	TemplatePath     string
	Name             string
	Description      string
	Severity         string `gorm:"index;size:16"`
	MatchedAt        string
	ExtractedResults datatypes.JSONSlice[string]
	Request          string
	Response         string
	CurlCommand      string
	Tags             datatypes.JSONSlice[string]
	CVEIDs           datatypes.JSONSlice[string] `gorm:"column:cve_ids"`
	CWEIDs           datatypes.JSONSlice[string] `gorm:"column:cwe_ids"`
	CVSSScore        string                      `gorm:"column:cvss_score"`
	References       datatypes.JSONSlice[string]
	Metadata         datatypes.JSONMap

	State          string `gorm:"index;size:16;not null"`
	Occurrences    int    `gorm:"not null;default:1"`
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	AssignedTo     *uint
	RiskReason     string
	StateChangedBy uint
	StateChangedAt *time.Time
}

// VulnerabilityEventDB defines the audit trail of the vulnerability workflow.
type VulnerabilityEventDB struct {
	ID              uint   `gorm:"primarykey"`
	VulnerabilityID uint   `gorm:"index;not null"`
	Action          string `gorm:"size:16;not null"`
	FromState       string `gorm:"size:16"`
	ToState         string `gorm:"size:16"`
	Actor           uint
	Assignee        *uint
	Reason          string
	At              time.Time
}
