package models

import (
	"strings"
	"time"
)

// UserID references a user owned by the identity collaborator.
// The zero value stands for the system itself.
type UserID uint

// System is the actor recorded for unattended mutations.
const System UserID = 0

// Asset defines a scan target tracked by the inventory.
type Asset struct {
	ID            uint       `json:"id"`
	Value         string     `json:"value"` // domain, IP or URL handed to the scanner
	Name          string     `json:"name,omitempty"`
	ScanEnabled   bool       `json:"scan_enabled"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}

// Severity defines the severity level reported by a scanner template.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from the least to the most severe.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity maps a raw scanner severity to a Severity.
// Unknown values fall back to medium.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.IsValid() {
		return s
	}
	return SeverityMedium
}
