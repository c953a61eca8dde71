package nuclei

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/sirupsen/logrus"
	"go-easm/models"
)

// ParseError describes a scanner output line that was dropped.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseLine decodes a single JSONL record into a Finding.
// Records missing any mandatory field are rejected with a *ParseError.
func ParseLine(line []byte) (models.Finding, error) {
	var f models.Finding
	if err := json.Unmarshal(line, &f); err != nil {
		return models.Finding{}, &ParseError{Reason: "invalid JSON", Err: err}
	}

	required := []struct {
		name, val string
	}{
		{"template-id", f.TemplateID},
		{"template-path", f.TemplatePath},
		{"info.name", f.Info.Name},
		{"info.severity", f.Info.Severity},
		{"type", f.Type},
		{"host", f.Host},
		{"matched-at", f.MatchedAt},
		{"timestamp", f.Timestamp},
	}
	for _, r := range required {
		if r.val == "" {
			return models.Finding{}, &ParseError{Reason: "missing " + r.name}
		}
	}
	return f, nil
}

// Parse decodes newline-delimited scanner output. Every line is decoded on
// its own; blank, malformed and incomplete lines are skipped without
// stopping the iteration. The sequence consumes r and can be ranged once.
func Parse(r io.Reader) iter.Seq[models.Finding] {
	return func(yield func(models.Finding) bool) {
		br := bufio.NewReader(r)
		lineNo := 0
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++
				if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
					f, perr := ParseLine(trimmed)
					if perr != nil {
						var pe *ParseError
						if errors.As(perr, &pe) {
							pe.Line = lineNo
						}
						logrus.Debugf("Skipping scanner output %v", perr)
					} else if !yield(f) {
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logrus.Warnf("Stopped reading scanner output at line %d: %v", lineNo, err)
				}
				return
			}
		}
	}
}

// ParseFile collects every Finding of a JSONL file.
// A missing file yields no findings.
func ParseFile(path string) ([]models.Finding, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []models.Finding
	for finding := range Parse(f) {
		findings = append(findings, finding)
	}
	return findings, nil
}
