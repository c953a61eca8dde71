package models

// FindingInfo defines the info block of a scanner template.
type FindingInfo struct {
	Name           string         `json:"name"`
	Author         []string       `json:"author,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Description    string         `json:"description,omitempty"`
	Reference      []string       `json:"reference,omitempty"`
	Severity       string         `json:"severity"`
	Classification map[string]any `json:"classification,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Finding defines one decoded scanner output record. Findings only live
// in memory; ingestion turns them into Vulnerabilities.
type Finding struct {
	TemplateID   string      `json:"template-id"`
	TemplatePath string      `json:"template-path"`
	Info         FindingInfo `json:"info"`

	Type        string `json:"type"`
	Host        string `json:"host"`
	MatchedAt   string `json:"matched-at"`
	MatchedLine string `json:"matched-line,omitempty"`

	ExtractedResults []string `json:"extracted-results,omitempty"`

	Request  string `json:"request,omitempty"`
	Response string `json:"response,omitempty"`

	MatcherName   string `json:"matcher-name,omitempty"`
	CurlCommand   string `json:"curl-command,omitempty"`
	Timestamp     string `json:"timestamp"`
	MatcherStatus *bool  `json:"matcher-status,omitempty"`
	IP            string `json:"ip,omitempty"`
}

// Severity returns the normalized severity of the finding.
func (f Finding) Severity() Severity {
	return ParseSeverity(f.Info.Severity)
}
