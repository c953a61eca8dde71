package nuclei

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-easm/models"
)

const findingLine = `{"template-id":"%s","template-path":"/t/%s.yaml","info":{"name":"Test %s","severity":"%s","tags":["cve","CVE-2021-44228"],"classification":{"cve-id":["cve-2021-44228"],"cwe-id":"CWE-502","cvss-score":10}},"type":"http","host":"https://example.com","matched-at":"https://example.com/%s","timestamp":"2024-01-01T00:00:00Z"}`

func line(id, severity string) string {
	return strings.NewReplacer("%s", id).Replace(strings.Replace(findingLine, `"severity":"%s"`, `"severity":"`+severity+`"`, 1))
}

func collect(r *strings.Reader) []models.Finding {
	var out []models.Finding
	for f := range Parse(r) {
		out = append(out, f)
	}
	return out
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		line("a", "high"),
		`{"template-id": "broken"`,
		line("b", "low"),
		"",
		line("c", "critical"),
	}, "\n")

	findings := collect(strings.NewReader(input))

	require.Len(t, findings, 3)
	assert.Equal(t, "a", findings[0].TemplateID)
	assert.Equal(t, "b", findings[1].TemplateID)
	assert.Equal(t, "c", findings[2].TemplateID)
	assert.Equal(t, models.SeverityCritical, findings[2].Severity())
	assert.Equal(t, "https://example.com/c", findings[2].MatchedAt)
}

func TestParse_NoTrailingNewline(t *testing.T) {
	findings := collect(strings.NewReader(line("a", "info") + "\n" + line("b", "info")))
	assert.Len(t, findings, 2)
}

func TestParse_LongLine(t *testing.T) {
	big := strings.Replace(line("a", "medium"), `"type":"http"`, `"type":"http","response":"`+strings.Repeat("x", 1<<20)+`"`, 1)
	findings := collect(strings.NewReader(big))
	require.Len(t, findings, 1)
	assert.Len(t, findings[0].Response, 1<<20)
}

func TestParse_StopsWhenConsumerStops(t *testing.T) {
	input := strings.Join([]string{line("a", "low"), line("b", "low"), line("c", "low")}, "\n")
	n := 0
	for range Parse(strings.NewReader(input)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestParseLine_MissingFields(t *testing.T) {
	cases := map[string]string{
		"template-id":   `"template-id":"a",`,
		"matched-at":    `"matched-at":"https://example.com/a",`,
		"info.severity": `"severity":"high",`,
		"timestamp":     `,"timestamp":"2024-01-01T00:00:00Z"`,
	}
	for field, cut := range cases {
		t.Run(field, func(t *testing.T) {
			raw := strings.Replace(line("a", "high"), cut, "", 1)
			_, err := ParseLine([]byte(raw))

			var pe *ParseError
			require.True(t, errors.As(err, &pe), raw)
			assert.Equal(t, "missing "+field, pe.Reason)
		})
	}
}

func TestParseLine_InvalidJSON(t *testing.T) {
	_, err := ParseLine([]byte("not json"))

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "invalid JSON", pe.Reason)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	findings, err := ParseFile(filepath.Join(dir, "missing.jsonl"))
	assert.NoError(t, err)
	assert.Empty(t, findings)

	path := filepath.Join(dir, "results.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(line("a", "high")+"\n"+line("b", "low")+"\n"), 0o600))

	findings, err = ParseFile(path)
	assert.NoError(t, err)
	assert.Len(t, findings, 2)
}
