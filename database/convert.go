package database

import (
	"time"

	"go-easm/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (a *AssetDB) toModel() *models.Asset {
	return &models.Asset{
		ID:            a.ID,
		Value:         a.Value,
		Name:          a.Name,
		ScanEnabled:   a.ScanEnabled,
		LastScannedAt: a.LastScannedAt,
	}
}

func (t *ScanTemplateDB) Fill(tpl *models.ScanTemplate) {
	t.Model = gorm.Model{ID: tpl.ID}
	t.Name = tpl.Name
	t.Description = tpl.Description
	t.Config = datatypes.NewJSONType(tpl.Patch)
}

func (t *ScanTemplateDB) toModel() *models.ScanTemplate {
	return &models.ScanTemplate{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Patch:       t.Config.Data(),
		CreatedAt:   t.CreatedAt,
	}
}

func (s *ScanDB) Fill(scan *models.Scan) {
	s.Model = gorm.Model{ID: scan.ID, CreatedAt: scan.CreatedAt}
	s.Name = scan.Name
	s.AssetID = scan.AssetID
	s.Target = scan.Target
	s.TemplateID = scan.TemplateID
	s.Status = string(scan.Status)
	s.Config = datatypes.NewJSONType(scan.Config)
	s.CreatedBy = uint(scan.CreatedBy)
	s.RunID = scan.RunID
	s.StartedAt = scan.StartedAt
	s.CompletedAt = scan.CompletedAt
	s.DurationMs = scan.Duration.Milliseconds()
	s.VulnerabilitiesFound = scan.VulnerabilitiesFound
	s.NewVulnerabilities = scan.NewVulnerabilities
	s.SeverityCounts = datatypes.NewJSONType(scan.SeverityCounts)
	s.Output = scan.Output
	s.ErrorOutput = scan.ErrorOutput
	s.ExitCode = scan.ExitCode
	s.ErrorMessage = scan.ErrorMessage
}

func (s *ScanDB) toModel() *models.Scan {
	return &models.Scan{
		ID:                   s.ID,
		Name:                 s.Name,
		AssetID:              s.AssetID,
		Target:               s.Target,
		TemplateID:           s.TemplateID,
		Status:               models.ScanStatus(s.Status),
		Config:               s.Config.Data(),
		CreatedBy:            models.UserID(s.CreatedBy),
		RunID:                s.RunID,
		CreatedAt:            s.CreatedAt,
		StartedAt:            s.StartedAt,
		CompletedAt:          s.CompletedAt,
		Duration:             time.Duration(s.DurationMs) * time.Millisecond,
		VulnerabilitiesFound: s.VulnerabilitiesFound,
		NewVulnerabilities:   s.NewVulnerabilities,
		SeverityCounts:       s.SeverityCounts.Data(),
		Output:               s.Output,
		ErrorOutput:          s.ErrorOutput,
		ExitCode:             s.ExitCode,
		ErrorMessage:         s.ErrorMessage,
	}
}

func (v *VulnerabilityDB) Fill(vuln *models.Vulnerability) {
	v.ID = vuln.ID
	v.AssetID = vuln.AssetID
	v.Fingerprint = vuln.Fingerprint
	v.ScanID = vuln.ScanID
	v.LastScanID = vuln.LastScanID
	v.TemplateID = vuln.TemplateID
	v.TemplatePath = vuln.TemplatePath
	v.Name = vuln.Name
	v.Description = vuln.Description
	v.Severity = string(vuln.Severity)
	v.MatchedAt = vuln.MatchedAt
	v.ExtractedResults = vuln.ExtractedResults
	v.Request = vuln.Request
	v.Response = vuln.Response
	v.CurlCommand = vuln.CurlCommand
	v.Tags = vuln.Tags
	v.CVEIDs = vuln.CVEIDs
	v.CWEIDs = vuln.CWEIDs
	v.CVSSScore = vuln.CVSSScore
	v.References = vuln.References
	v.Metadata = vuln.Metadata
	v.State = string(vuln.State)
	v.Occurrences = vuln.Occurrences
	v.FirstSeenAt = vuln.FirstSeenAt
	v.LastSeenAt = vuln.LastSeenAt
	v.AssignedTo = (*uint)(vuln.AssignedTo)
	v.RiskReason = vuln.RiskReason
	v.StateChangedBy = uint(vuln.StateChangedBy)
	v.StateChangedAt = vuln.StateChangedAt
}

func (v *VulnerabilityDB) toModel() *models.Vulnerability {
	return &models.Vulnerability{
		ID:               v.ID,
		AssetID:          v.AssetID,
		ScanID:           v.ScanID,
		LastScanID:       v.LastScanID,
		Fingerprint:      v.Fingerprint,
		TemplateID:       v.TemplateID,
		TemplatePath:     v.TemplatePath,
		Name:             v.Name,
		Description:      v.Description,
		Severity:         models.Severity(v.Severity),
		MatchedAt:        v.MatchedAt,
		ExtractedResults: v.ExtractedResults,
		Request:          v.Request,
		Response:         v.Response,
		CurlCommand:      v.CurlCommand,
		Tags:             v.Tags,
		CVEIDs:           v.CVEIDs,
		CWEIDs:           v.CWEIDs,
		CVSSScore:        v.CVSSScore,
		References:       v.References,
		Metadata:         v.Metadata,
		State:            models.VulnState(v.State),
		Occurrences:      v.Occurrences,
		FirstSeenAt:      v.FirstSeenAt,
		LastSeenAt:       v.LastSeenAt,
		AssignedTo:       (*models.UserID)(v.AssignedTo),
		RiskReason:       v.RiskReason,
		StateChangedBy:   models.UserID(v.StateChangedBy),
		StateChangedAt:   v.StateChangedAt,
	}
}

func (e *VulnerabilityEventDB) Fill(ev *models.VulnerabilityEvent) {
	e.ID = ev.ID
	e.VulnerabilityID = ev.VulnerabilityID
	e.Action = string(ev.Action)
	e.FromState = string(ev.From)
	e.ToState = string(ev.To)
	e.Actor = uint(ev.Actor)
	e.Assignee = (*uint)(ev.Assignee)
	e.Reason = ev.Reason
	e.At = ev.At
}

func (e *VulnerabilityEventDB) toModel() models.VulnerabilityEvent {
	return models.VulnerabilityEvent{
		ID:              e.ID,
		VulnerabilityID: e.VulnerabilityID,
		Action:          models.EventAction(e.Action),
		From:            models.VulnState(e.FromState),
		To:              models.VulnState(e.ToState),
		Actor:           models.UserID(e.Actor),
		Assignee:        (*models.UserID)(e.Assignee),
		Reason:          e.Reason,
		At:              e.At,
	}
}
