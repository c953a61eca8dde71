package models

import "time"

// VulnState defines the workflow state of a Vulnerability.
type VulnState string

const (
	StateNew           VulnState = "new"
	StateTriaging      VulnState = "triaging"
	StateInvestigating VulnState = "investigating"
	StateRemediation   VulnState = "remediation"
	StateResolved      VulnState = "resolved"
	StateFalsePositive VulnState = "false_positive"
	StateAcceptedRisk  VulnState = "accepted_risk"
)

// IsValid reports whether s is a recognized state.
func (s VulnState) IsValid() bool {
	switch s {
	case StateNew, StateTriaging, StateInvestigating, StateRemediation,
		StateResolved, StateFalsePositive, StateAcceptedRisk:
		return true
	}
	return false
}

// IsTerminal reports whether s closes the normal workflow.
func (s VulnState) IsTerminal() bool {
	switch s {
	case StateResolved, StateFalsePositive, StateAcceptedRisk:
		return true
	}
	return false
}

// Vulnerability defines a persisted, deduplicated finding.
type Vulnerability struct {
	ID          uint   `json:"id"`
	AssetID     uint   `json:"asset_id"`
	ScanID      uint   `json:"scan_id"`
	LastScanID  uint   `json:"last_scan_id"`
	Fingerprint string `json:"fingerprint"`

	TemplateID       string         `json:"template_id"`
	TemplatePath     string         `json:"template_path,omitempty"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	Severity         Severity       `json:"severity"`
	MatchedAt        string         `json:"matched_at"`
	ExtractedResults []string       `json:"extracted_results,omitempty"`
	Request          string         `json:"request,omitempty"`
	Response         string         `json:"response,omitempty"`
	CurlCommand      string         `json:"curl_command,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CVEIDs           []string       `json:"cve_ids,omitempty"`
	CWEIDs           []string       `json:"cwe_ids,omitempty"`
	CVSSScore        string         `json:"cvss_score,omitempty"`
	References       []string       `json:"reference_urls,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`

	State          VulnState  `json:"state"`
	Occurrences    int        `json:"occurrences"`
	FirstSeenAt    time.Time  `json:"first_seen_at"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	AssignedTo     *UserID    `json:"assigned_to,omitempty"`
	RiskReason     string     `json:"risk_reason,omitempty"`
	StateChangedBy UserID     `json:"state_changed_by,omitempty"`
	StateChangedAt *time.Time `json:"state_changed_at,omitempty"`
}

// EventAction names a state machine mutation recorded in the audit trail.
type EventAction string

const (
	ActionStateChange EventAction = "state_change"
	ActionAssign      EventAction = "assign"
	ActionAcceptRisk  EventAction = "accept_risk"
	ActionReopen      EventAction = "reopen"
)

// VulnerabilityEvent defines one audit record of a Vulnerability mutation.
type VulnerabilityEvent struct {
	ID              uint        `json:"id"`
	VulnerabilityID uint        `json:"vulnerability_id"`
	Action          EventAction `json:"action"`
	From            VulnState   `json:"from,omitempty"`
	To              VulnState   `json:"to,omitempty"`
	Actor           UserID      `json:"actor"`
	Assignee        *UserID     `json:"assignee,omitempty"`
	Reason          string      `json:"reason,omitempty"`
	At              time.Time   `json:"at"`
}
