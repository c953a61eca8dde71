package nuclei

import (
	"strconv"
	"strings"

	"go-easm/models"
)

// Invocation defines everything BuildArgs needs to render a command line.
type Invocation struct {
	Config      models.ScanConfig
	TargetsFile string // one target per line
	OutputFile  string // JSONL results

	// DefaultTemplates is used when Config selects no template explicitly.
	// Leave it empty when the directory does not exist.
	DefaultTemplates string
}

// BuildArgs renders the nuclei arguments for an invocation.
// It is a pure function: equal invocations always yield equal arguments.
func BuildArgs(inv Invocation) []string {
	cfg := inv.Config

	args := []string{
		"-l", inv.TargetsFile,
		"-jsonl",
		"-o", inv.OutputFile,
		"-silent",
		"-no-color",
		"-disable-update-check",
	}

	// Template selection
	if len(cfg.Templates) > 0 {
		for _, t := range cfg.Templates {
			args = append(args, "-t", t)
		}
	} else if inv.DefaultTemplates != "" {
		args = append(args, "-t", inv.DefaultTemplates)
	}
	for _, t := range cfg.ExcludeTemplates {
		args = append(args, "-exclude-templates", t)
	}

	// Tag and severity filters
	if len(cfg.Tags) > 0 {
		args = append(args, "-tags", strings.Join(cfg.Tags, ","))
	}
	if len(cfg.ExcludeTags) > 0 {
		args = append(args, "-exclude-tags", strings.Join(cfg.ExcludeTags, ","))
	}
	if len(cfg.Severities) > 0 {
		args = append(args, "-severity", joinSeverities(cfg.Severities))
	}
	if len(cfg.ExcludeSeverities) > 0 {
		args = append(args, "-exclude-severity", joinSeverities(cfg.ExcludeSeverities))
	}

	// Rate limiting
	args = append(args,
		"-rate-limit", strconv.Itoa(cfg.RateLimit),
		"-bulk-size", strconv.Itoa(cfg.BulkSize),
		"-c", strconv.Itoa(cfg.Concurrency),
	)

	// Redirects
	if cfg.DisableRedirects {
		args = append(args, "-disable-redirects")
	} else {
		if cfg.FollowRedirects {
			args = append(args, "-follow-redirects")
		}
		if cfg.FollowHostRedirects {
			args = append(args, "-follow-host-redirects")
		}
		if (cfg.FollowRedirects || cfg.FollowHostRedirects) && cfg.MaxRedirects > 0 {
			args = append(args, "-max-redirects", strconv.Itoa(cfg.MaxRedirects))
		}
	}

	// Output detail. nuclei only knows one flag for request and response.
	if cfg.IncludeRequest || cfg.IncludeResponse {
		args = append(args, "-include-rr")
	}
	if cfg.IncludeCurl {
		args = append(args, "-include-curl")
	}

	return append(args, cfg.CustomArgs...)
}

func joinSeverities(list []models.Severity) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}
