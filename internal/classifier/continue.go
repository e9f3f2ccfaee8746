package classifier

import (
	"regexp"
	"strings"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

var (
	trailingCounterRe = regexp.MustCompile(`\s*(?:\(\d+\)|\[\d+\]|#\d+)\s*$`)
	trailingClockRe   = regexp.MustCompile(`\s*\b(?:[01]?\d|2[0-3]):[0-5]\d(?::[0-5]\d)?\s*$`)
)

// NormalizeTitle strips trailing counters such as "(1)", "[2]" or "#3" and
// trailing clock times such as "14:05" or "14:05:09". Version strings,
// dated identifiers and file extensions are left alone.
func NormalizeTitle(title string) string {
	s := strings.TrimSpace(title)
	for {
		next := trailingCounterRe.ReplaceAllString(s, "")
		next = trailingClockRe.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == s {
			return s
		}
		s = next
	}
}

// CanContinue decides whether next extends the record described by cur.
// age is how long the current record has been live. In a browser with
// URLs on both sides the URL decides, including inside the leniency window.
func CanContinue(cur, next core.Descriptor, age time.Duration, s core.Settings) bool {
	if cur.App != next.App {
		return false
	}
	sameTitle := cur.Title == next.Title
	sameProject := cur.Project == next.Project

	if !s.SmartSampling {
		return sameTitle && sameProject
	}
	browserURLs := IsBrowser(cur.App) && cur.URL != "" && next.URL != ""
	if browserURLs && cur.URL != next.URL {
		return false
	}
	if age < time.Duration(s.ActivityLeniency)*time.Second {
		return sameProject
	}
	if !s.ConsolidateActivities {
		return sameTitle && sameProject
	}
	if browserURLs {
		return true
	}
	if !sameProject {
		return false
	}

	switch s.ConsolidationMode {
	case core.ModeStrict:
		return sameTitle
	case core.ModeRelaxed:
		return true
	default:
		if core.Intersect(cur.Tickets, next.Tickets) >= 1 {
			return true
		}
		if core.Intersect(cur.Tags, next.Tags) >= 2 {
			return true
		}
		return NormalizeTitle(cur.Title) == NormalizeTitle(next.Title)
	}
}
