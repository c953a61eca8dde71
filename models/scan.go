package models

import "time"

// ScanStatus defines the execution status of a Scan.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanQueued    ScanStatus = "queued"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no transition may leave s.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a recognized status.
func (s ScanStatus) IsValid() bool {
	switch s {
	case ScanPending, ScanQueued, ScanRunning, ScanCompleted, ScanFailed, ScanCancelled:
		return true
	}
	return false
}

// Runnable lists the statuses from which a scan may start executing.
var Runnable = []ScanStatus{ScanPending, ScanQueued}

// Cancellable lists the statuses from which a scan may be cancelled.
var Cancellable = []ScanStatus{ScanPending, ScanQueued, ScanRunning}

// Scan defines one execution job of the scanner against an asset.
type Scan struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	AssetID    uint       `json:"asset_id"`
	Target     string     `json:"target"`
	TemplateID *uint      `json:"template_id,omitempty"`
	Status     ScanStatus `json:"status"`
	Config     ScanConfig `json:"config"`
	CreatedBy  UserID     `json:"created_by,omitempty"`
	RunID      string     `json:"run_id,omitempty"`

	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	VulnerabilitiesFound int              `json:"vulnerabilities_found"`
	NewVulnerabilities   int              `json:"new_vulnerabilities"`
	SeverityCounts       map[Severity]int `json:"vulnerabilities_by_severity,omitempty"`

	Output       string `json:"output,omitempty"`
	ErrorOutput  string `json:"error_output,omitempty"`
	ExitCode     int    `json:"exit_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ScanTemplate defines a named, reusable scanner configuration preset.
type ScanTemplate struct {
	ID          uint        `json:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Patch       ConfigPatch `json:"config" yaml:"config"`
	CreatedAt   time.Time   `json:"created_at"`
}
