package classifier

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantumlife/worktrail/internal/core"
)

func TestCheckPattern_Accepts(t *testing.T) {
	for _, p := range []string{
		"report",
		"^slack$",
		`acme\s+dashboard`,
		`(foo|bar)+`,
		`(?i)jira\.acme\.com/browse/[A-Z]+-\d+`,
		`[a-z]{2,5}-\d{1,6}`,
		`(ab){3}`,
		`(?P<key>[A-Z]+)-\d+`,
		`a?b?c?`,
	} {
		assert.NoError(t, CheckPattern(p), p)
	}
}

func TestCheckPattern_Rejects(t *testing.T) {
	tests := map[string]string{
		"nested plus":          `(a+)+$`,
		"nested star":          `(a*)*b`,
		"nested deep":          `((ab)+c)*`,
		"nested bounded":       `(a{2,})+`,
		"overlap same literal": `(ab|ac)+`,
		"overlap broad":        `(\w|a)*`,
		"overlap empty":        `(a|)+`,
		"overlap dot":          `(.|x){2,}`,
		"chain":                `a+b+c+d+`,
		"unterminated class":   `[abc`,
		"unbalanced":           `(abc`,
		"stray close":          `abc)`,
		"trailing backslash":   `abc\`,
		"too long":             strings.Repeat("a", MaxPatternLength+1),
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, CheckPattern(p), core.ErrUnsafePattern)
		})
	}
}

func TestCheckPattern_TotalUnbounded(t *testing.T) {
	// Nine separated unbounded atoms stay under the chain limit but not the total.
	p := strings.Repeat("a+x", 9)
	assert.ErrorIs(t, CheckPattern(p), core.ErrUnsafePattern)
	assert.NoError(t, CheckPattern(strings.Repeat("a+x", 8)))
}
