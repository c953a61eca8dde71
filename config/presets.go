package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"go-easm/models"
	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var defaultPresets []byte

type presetFile struct {
	Templates []models.ScanTemplate `yaml:"templates"`
}

// LoadTemplates decodes scan template presets from a YAML document.
func LoadTemplates(r io.Reader) ([]models.ScanTemplate, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f presetFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode templates: %v", models.ErrValidation, err)
	}

	seen := make(map[string]struct{}, len(f.Templates))
	for i := range f.Templates {
		name := strings.TrimSpace(f.Templates[i].Name)
		if name == "" {
			return nil, fmt.Errorf("%w: template #%d has no name", models.ErrValidation, i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate template %q", models.ErrValidation, name)
		}
		seen[name] = struct{}{}
		f.Templates[i].Name = name
	}
	return f.Templates, nil
}

// DefaultTemplates returns the presets shipped with the binary.
func DefaultTemplates() ([]models.ScanTemplate, error) {
	return LoadTemplates(bytes.NewReader(defaultPresets))
}
