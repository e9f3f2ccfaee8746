package classifier

import (
	"fmt"
	"strings"

	"github.com/quantumlife/worktrail/internal/core"
)

// MaxPatternLength is the longest user pattern accepted.
const MaxPatternLength = 200

// Quantifier chain limits.
const (
	maxUnboundedRun   = 4 // adjacent atoms with * + or {n,}
	maxUnboundedTotal = 8
)

// CheckPattern screens a user-supplied regular expression for shapes that
// backtrack catastrophically in other engines: nested quantifiers,
// overlapping alternatives inside a quantified group, long quantifier
// chains, and excessive length. Mapping rules are portable data, so the
// screen applies even though regexp itself runs in linear time.
func CheckPattern(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return fmt.Errorf("%w: longer than %d characters", core.ErrUnsafePattern, MaxPatternLength)
	}
	atoms, err := scanAtoms(pattern)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnsafePattern, err)
	}
	total := 0
	if err := screen(atoms, &total); err != nil {
		return err
	}
	if total > maxUnboundedTotal {
		return fmt.Errorf("%w: %d unbounded quantifiers", core.ErrUnsafePattern, total)
	}
	return nil
}

// atom is one element of a pattern plus its trailing quantifier.
type atom struct {
	text  string // the atom without quantifier
	group bool
	body  string // group contents without the parentheses or flags
	quant string
}

func (a atom) repeats() bool {
	switch {
	case a.quant == "":
		return false
	case strings.HasPrefix(a.quant, "?"):
		return false
	case strings.HasPrefix(a.quant, "*"), strings.HasPrefix(a.quant, "+"):
		return true
	}
	// {n}, {n,}, {n,m}
	inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimRight(a.quant, "?+"), "{"), "}")
	if strings.HasSuffix(inner, ",") {
		return true
	}
	parts := strings.Split(inner, ",")
	last := parts[len(parts)-1]
	return last != "0" && last != "1"
}

func (a atom) unbounded() bool {
	q := strings.TrimRight(a.quant, "?")
	return strings.HasPrefix(q, "*") || strings.HasPrefix(q, "+") || strings.HasSuffix(strings.TrimSuffix(q, "}"), ",")
}

func screen(atoms []atom, total *int) error {
	run := 0
	for _, a := range atoms {
		if a.unbounded() {
			*total++
			run++
			if run >= maxUnboundedRun {
				return fmt.Errorf("%w: quantifier chain", core.ErrUnsafePattern)
			}
		} else if a.text != "|" {
			run = 0
		}

		if !a.group {
			continue
		}
		inner, err := scanAtoms(a.body)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrUnsafePattern, err)
		}
		if a.repeats() {
			if containsRepeat(inner) {
				return fmt.Errorf("%w: nested quantifier in %q", core.ErrUnsafePattern, a.text+a.quant)
			}
			if alternativesOverlap(a.body) {
				return fmt.Errorf("%w: overlapping alternatives in %q", core.ErrUnsafePattern, a.text+a.quant)
			}
		}
		if err := screen(inner, total); err != nil {
			return err
		}
	}
	return nil
}

func containsRepeat(atoms []atom) bool {
	for _, a := range atoms {
		if a.repeats() {
			return true
		}
		if a.group {
			inner, err := scanAtoms(a.body)
			if err == nil && containsRepeat(inner) {
				return true
			}
		}
	}
	return false
}

// scanAtoms splits a pattern into top-level atoms. Alternation bars are
// returned as atoms with text "|".
func scanAtoms(p string) ([]atom, error) {
	var atoms []atom
	i := 0
	for i < len(p) {
		start := i
		var a atom
		switch p[i] {
		case '\\':
			if i+1 >= len(p) {
				return nil, fmt.Errorf("trailing backslash")
			}
			i += 2
			a.text = p[start:i]
		case '[':
			end, err := classEnd(p, i)
			if err != nil {
				return nil, err
			}
			i = end + 1
			a.text = p[start:i]
		case '(':
			end, err := groupEnd(p, i)
			if err != nil {
				return nil, err
			}
			i = end + 1
			a.text = p[start:i]
			a.group = true
			a.body = stripGroupFlags(p[start+1 : end])
		case ')':
			return nil, fmt.Errorf("unbalanced parenthesis")
		default:
			i++
			a.text = p[start:i]
		}
		if a.text != "|" {
			q, n := readQuantifier(p[i:])
			a.quant = q
			i += n
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

func classEnd(p string, i int) (int, error) {
	j := i + 1
	if j < len(p) && p[j] == '^' {
		j++
	}
	if j < len(p) && p[j] == ']' {
		j++
	}
	for j < len(p) {
		switch p[j] {
		case '\\':
			j += 2
			continue
		case ']':
			return j, nil
		}
		j++
	}
	return 0, fmt.Errorf("unterminated character class")
}

func groupEnd(p string, i int) (int, error) {
	depth := 0
	for j := i; j < len(p); j++ {
		switch p[j] {
		case '\\':
			j++
		case '[':
			end, err := classEnd(p, j)
			if err != nil {
				return 0, err
			}
			j = end
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced parenthesis")
}

func stripGroupFlags(body string) string {
	if !strings.HasPrefix(body, "?") {
		return body
	}
	if strings.HasPrefix(body, "?P<") || strings.HasPrefix(body, "?<") {
		if end := strings.IndexByte(body, '>'); end >= 0 {
			return body[end+1:]
		}
	}
	if end := strings.IndexByte(body, ':'); end >= 0 {
		return body[end+1:]
	}
	return body
}

func readQuantifier(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	n := 0
	switch s[0] {
	case '*', '+', '?':
		n = 1
	case '{':
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", 0
		}
		inner := s[1:end]
		for _, r := range inner {
			if (r < '0' || r > '9') && r != ',' {
				return "", 0
			}
		}
		if inner == "" || inner[0] == ',' {
			return "", 0
		}
		n = end + 1
	default:
		return "", 0
	}
	// lazy or possessive suffix
	if n < len(s) && (s[n] == '?' || s[n] == '+') {
		n++
	}
	return s[:n], n
}

// alternativesOverlap reports whether two top-level alternatives of body
// can start matching the same input.
func alternativesOverlap(body string) bool {
	atoms, err := scanAtoms(body)
	if err != nil {
		return true
	}
	var alts [][]atom
	cur := []atom{}
	for _, a := range atoms {
		if a.text == "|" {
			alts = append(alts, cur)
			cur = []atom{}
			continue
		}
		cur = append(cur, a)
	}
	alts = append(alts, cur)
	if len(alts) < 2 {
		return false
	}

	for i := 0; i < len(alts); i++ {
		for j := i + 1; j < len(alts); j++ {
			if firstAtomsOverlap(alts[i], alts[j]) {
				return true
			}
		}
	}
	return false
}

func firstAtomsOverlap(x, y []atom) bool {
	// An empty alternative matches wherever the other one does.
	if len(x) == 0 || len(y) == 0 {
		return true
	}
	a, b := x[0], y[0]
	if broad(a) || broad(b) {
		return true
	}
	if a.group || b.group {
		return true
	}
	return strings.EqualFold(literal(a.text), literal(b.text))
}

// broad reports whether an atom matches a class of characters.
func broad(a atom) bool {
	if a.text == "." || strings.HasPrefix(a.text, "[") {
		return true
	}
	if len(a.text) == 2 && a.text[0] == '\\' {
		return strings.ContainsRune("wWdDsSbBpP", rune(a.text[1]))
	}
	return false
}

func literal(text string) string {
	if len(text) == 2 && text[0] == '\\' {
		return text[1:]
	}
	return text
}
