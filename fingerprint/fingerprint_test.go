package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompute_Deterministic(t *testing.T) {
	a := Compute("git-config", "https://example.com/.git/config")
	b := Compute("git-config", "https://example.com/.git/config")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCompute_DistinctPairs(t *testing.T) {
	pairs := [][2]string{
		{"git-config", "https://example.com/admin"},
		{"git-config", "https://example.com/login"},
		{"exposed-panel", "https://example.com/admin"},
		// Shifting the separator between the fields must not collide.
		{"a:b", "c"},
		{"a", "b:c"},
		{"", "a:"},
		{"a", ""},
	}

	seen := make(map[string][2]string)
	for _, p := range pairs {
		fp := Compute(p[0], p[1])
		prev, dup := seen[fp]
		assert.False(t, dup, "%v collides with %v", p, prev)
		seen[fp] = p
	}
}
