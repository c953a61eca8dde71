package ingest

import (
	"time"

	"go-easm/fingerprint"
	"go-easm/models"
	"go-easm/nuclei"
)

// NewVulnerability builds the candidate row persisted for a finding the
// first time it is seen on an asset.
func NewVulnerability(f models.Finding, assetID, scanID uint, now time.Time) models.Vulnerability {
	return models.Vulnerability{
		AssetID:     assetID,
		ScanID:      scanID,
		LastScanID:  scanID,
		Fingerprint: fingerprint.Compute(f.TemplateID, f.MatchedAt),

		TemplateID:       f.TemplateID,
		TemplatePath:     f.TemplatePath,
		Name:             f.Info.Name,
		Description:      f.Info.Description,
		Severity:         f.Severity(),
		MatchedAt:        f.MatchedAt,
		ExtractedResults: f.ExtractedResults,
		Request:          f.Request,
		Response:         f.Response,
		CurlCommand:      f.CurlCommand,
		Tags:             f.Info.Tags,
		CVEIDs:           nuclei.ExtractCVEIDs(f),
		CWEIDs:           nuclei.ExtractCWEIDs(f),
		CVSSScore:        nuclei.ExtractCVSSScore(f),
		References:       f.Info.Reference,
		Metadata: map[string]any{
			"classification":  orEmpty(f.Info.Classification),
			"nuclei_metadata": orEmpty(f.Info.Metadata),
			"type":            f.Type,
			"matcher_name":    f.MatcherName,
			"ip":              f.IP,
			"timestamp":       f.Timestamp,
		},

		State:       models.StateNew,
		Occurrences: 1,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
