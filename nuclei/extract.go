package nuclei

import (
	"fmt"
	"sort"
	"strings"

	"go-easm/models"
)

// CountBySeverity counts findings per severity. Only non-zero buckets are
// present in the result.
func CountBySeverity(findings []models.Finding) map[models.Severity]int {
	counts := make(map[models.Severity]int)
	for _, f := range findings {
		counts[f.Severity()]++
	}
	return counts
}

// ExtractCVEIDs returns the CVE ids referenced by tags or classification.
func ExtractCVEIDs(f models.Finding) []string {
	return extractIDs(f, "CVE-", "cve-id")
}

// ExtractCWEIDs returns the CWE ids referenced by tags or classification.
func ExtractCWEIDs(f models.Finding) []string {
	return extractIDs(f, "CWE-", "cwe-id")
}

// ExtractCVSSScore returns the CVSS score of the classification block, if any.
func ExtractCVSSScore(f models.Finding) string {
	for _, key := range []string{"cvss-score", "cvss_score", "cvss"} {
		switch v := f.Info.Classification[key].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v != 0 {
				return fmt.Sprint(v)
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func extractIDs(f models.Finding, prefix, key string) []string {
	set := make(map[string]struct{})
	for _, tag := range f.Info.Tags {
		if id := strings.ToUpper(tag); strings.HasPrefix(id, prefix) {
			set[id] = struct{}{}
		}
	}

	switch v := f.Info.Classification[key].(type) {
	case string:
		if v != "" {
			set[strings.ToUpper(v)] = struct{}{}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				set[strings.ToUpper(s)] = struct{}{}
			}
		}
	}

	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
