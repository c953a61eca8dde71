package models

import (
	"fmt"
	"strings"
	"time"
)

// Validation bounds applied to every resolved scan configuration.
const (
	MinRateLimit   = 1
	MaxRateLimit   = 1000
	MinBulkSize    = 1
	MaxBulkSize    = 100
	MinConcurrency = 1
	MaxConcurrency = 100
	MinTimeout     = 60   // seconds
	MaxTimeout     = 7200 // seconds
)

// ScanConfig defines the fully resolved scanner configuration.
// A copy of it is stored on every Scan and governs its execution.
type ScanConfig struct {
	Templates         []string   `json:"templates,omitempty" yaml:"templates,omitempty"`
	ExcludeTemplates  []string   `json:"exclude_templates,omitempty" yaml:"exclude_templates,omitempty"`
	Tags              []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	ExcludeTags       []string   `json:"exclude_tags,omitempty" yaml:"exclude_tags,omitempty"`
	Severities        []Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	ExcludeSeverities []Severity `json:"exclude_severity,omitempty" yaml:"exclude_severity,omitempty"`

	RateLimit   int `json:"rate_limit" yaml:"rate_limit"`
	BulkSize    int `json:"bulk_size" yaml:"bulk_size"`
	Concurrency int `json:"threads" yaml:"threads"`
	Timeout     int `json:"timeout" yaml:"timeout"` // seconds

	FollowRedirects     bool `json:"follow_redirects" yaml:"follow_redirects"`
	FollowHostRedirects bool `json:"follow_host_redirects" yaml:"follow_host_redirects"`
	MaxRedirects        int  `json:"max_redirects" yaml:"max_redirects"`
	DisableRedirects    bool `json:"disable_redirects" yaml:"disable_redirects"`

	IncludeRequest  bool `json:"include_request" yaml:"include_request"`
	IncludeResponse bool `json:"include_response" yaml:"include_response"`
	IncludeCurl     bool `json:"include_curl" yaml:"include_curl"`

	CustomArgs []string `json:"custom_args,omitempty" yaml:"custom_args,omitempty"`
}

// DefaultScanConfig returns the global defaults used when neither a template
// nor the caller sets a value.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		RateLimit:       150,
		BulkSize:        25,
		Concurrency:     25,
		Timeout:         3600,
		FollowRedirects: true,
		MaxRedirects:    10,
		IncludeRequest:  true,
		IncludeCurl:     true,
	}
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c ScanConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Validate checks the numeric knobs against their allowed ranges.
func (c ScanConfig) Validate() error {
	checks := []struct {
		name     string
		val      int
		min, max int
	}{
		{"rate_limit", c.RateLimit, MinRateLimit, MaxRateLimit},
		{"bulk_size", c.BulkSize, MinBulkSize, MaxBulkSize},
		{"threads", c.Concurrency, MinConcurrency, MaxConcurrency},
		{"timeout", c.Timeout, MinTimeout, MaxTimeout},
	}
	for _, ch := range checks {
		if ch.val < ch.min || ch.val > ch.max {
			return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrValidation, ch.name, ch.min, ch.max, ch.val)
		}
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("%w: max_redirects must not be negative", ErrValidation)
	}
	for _, s := range append(append([]Severity{}, c.Severities...), c.ExcludeSeverities...) {
		if !s.IsValid() {
			return fmt.Errorf("%w: unknown severity %q", ErrValidation, s)
		}
	}
	return validateCustomArgs(c.CustomArgs)
}

// customFlags lists the nuclei flags accepted in CustomArgs. Flags that
// move the output, change the target list or enable code execution are
// left out.
var customFlags = map[string]struct{}{
	"-H": {}, "-header": {},
	"-V": {}, "-var": {},
	"-p": {}, "-proxy": {},
	"-timeout": {}, "-retries": {},
	"-mhe": {}, "-max-host-error": {},
	"-ss": {}, "-scan-strategy": {},
	"-ni": {}, "-no-interactsh": {},
	"-nh": {}, "-no-httpx": {},
	"-stats": {}, "-si": {}, "-stats-interval": {},
	"-v": {}, "-verbose": {},
}

func validateCustomArgs(args []string) error {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, _, _ := strings.Cut(arg, "=")
		name = "-" + strings.TrimLeft(name, "-")
		if _, ok := customFlags[name]; !ok {
			return fmt.Errorf("%w: custom argument %q is not allowed", ErrValidation, arg)
		}
	}
	return nil
}

// ConfigPatch carries optional ScanConfig values.
// A nil slice or nil pointer leaves the underlying value untouched.
type ConfigPatch struct {
	Templates         []string   `json:"templates,omitempty" yaml:"templates,omitempty"`
	ExcludeTemplates  []string   `json:"exclude_templates,omitempty" yaml:"exclude_templates,omitempty"`
	Tags              []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	ExcludeTags       []string   `json:"exclude_tags,omitempty" yaml:"exclude_tags,omitempty"`
	Severities        []Severity `json:"severity,omitempty" yaml:"severity,omitempty"`
	ExcludeSeverities []Severity `json:"exclude_severity,omitempty" yaml:"exclude_severity,omitempty"`

	RateLimit   *int `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	BulkSize    *int `json:"bulk_size,omitempty" yaml:"bulk_size,omitempty"`
	Concurrency *int `json:"threads,omitempty" yaml:"threads,omitempty"`
	Timeout     *int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	FollowRedirects     *bool `json:"follow_redirects,omitempty" yaml:"follow_redirects,omitempty"`
	FollowHostRedirects *bool `json:"follow_host_redirects,omitempty" yaml:"follow_host_redirects,omitempty"`
	MaxRedirects        *int  `json:"max_redirects,omitempty" yaml:"max_redirects,omitempty"`
	DisableRedirects    *bool `json:"disable_redirects,omitempty" yaml:"disable_redirects,omitempty"`

	IncludeRequest  *bool `json:"include_request,omitempty" yaml:"include_request,omitempty"`
	IncludeResponse *bool `json:"include_response,omitempty" yaml:"include_response,omitempty"`
	IncludeCurl     *bool `json:"include_curl,omitempty" yaml:"include_curl,omitempty"`

	CustomArgs []string `json:"custom_args,omitempty" yaml:"custom_args,omitempty"`
}

// Apply returns a copy of c with every value set in p written over it.
func (c ScanConfig) Apply(p ConfigPatch) ScanConfig {
	setStrings(&c.Templates, p.Templates)
	setStrings(&c.ExcludeTemplates, p.ExcludeTemplates)
	setStrings(&c.Tags, p.Tags)
	setStrings(&c.ExcludeTags, p.ExcludeTags)
	setStrings(&c.CustomArgs, p.CustomArgs)
	if p.Severities != nil {
		c.Severities = append([]Severity(nil), p.Severities...)
	}
	if p.ExcludeSeverities != nil {
		c.ExcludeSeverities = append([]Severity(nil), p.ExcludeSeverities...)
	}

	setValue(&c.RateLimit, p.RateLimit)
	setValue(&c.BulkSize, p.BulkSize)
	setValue(&c.Concurrency, p.Concurrency)
	setValue(&c.Timeout, p.Timeout)
	setValue(&c.MaxRedirects, p.MaxRedirects)

	setValue(&c.FollowRedirects, p.FollowRedirects)
	setValue(&c.FollowHostRedirects, p.FollowHostRedirects)
	setValue(&c.DisableRedirects, p.DisableRedirects)
	setValue(&c.IncludeRequest, p.IncludeRequest)
	setValue(&c.IncludeResponse, p.IncludeResponse)
	setValue(&c.IncludeCurl, p.IncludeCurl)
	return c
}

// MergeConfig resolves the configuration of a scan: overrides take precedence
// over the template, which takes precedence over the defaults.
func MergeConfig(defaults ScanConfig, template *ScanTemplate, overrides ConfigPatch) ScanConfig {
	cfg := defaults
	if template != nil {
		cfg = cfg.Apply(template.Patch)
	}
	return cfg.Apply(overrides)
}

func setStrings(dst *[]string, src []string) {
	if src != nil {
		*dst = append([]string(nil), src...)
	}
}

func setValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
