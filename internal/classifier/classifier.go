// Package classifier turns raw window observations into activity
// descriptors. Classification never fails: anything it cannot interpret
// falls through to the default project.
package classifier

import (
	"regexp"
	"strings"
	"sync"

	"github.com/quantumlife/worktrail/internal/core"
	"github.com/quantumlife/worktrail/internal/logging"
)

var (
	browserAppRe = regexp.MustCompile(`(?i)\b(chrome|google chrome|chromium|firefox|safari|edge|msedge|brave|opera|vivaldi|arc|librewolf|waterfox)\b`)
	breakRe      = regexp.MustCompile(`(?i)\b(break|lunch|personal|pause|private|coffee)\b`)
)

// IsBrowser reports whether app is a web browser.
func IsBrowser(app string) bool {
	return browserAppRe.MatchString(app)
}

// Classifier holds the memoized user regexes. It is safe for concurrent use.
type Classifier struct {
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]*regexp.Regexp // nil marks a rejected pattern
}

// New creates a classifier.
func New(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		logger: logger.Component("classifier"),
		cache:  make(map[string]*regexp.Regexp),
	}
}

// Invalidate drops every memoized regex. Call after mapping tables change.
func (c *Classifier) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]*regexp.Regexp)
	c.mu.Unlock()
}

// compile returns the case-insensitive regex for a user pattern, or nil if
// the pattern is unsafe or invalid. Each rejected pattern is logged once.
func (c *Classifier) compile(pattern string) *regexp.Regexp {
	c.mu.RLock()
	re, ok := c.cache[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	if err := CheckPattern(pattern); err != nil {
		c.logger.WarnOnce("pattern:"+pattern, "skipping mapping pattern %q: %v", pattern, err)
	} else {
		expr := pattern
		if !strings.HasPrefix(expr, "(?") {
			expr = "(?i)" + expr
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			c.logger.WarnOnce("pattern:"+pattern, "skipping invalid mapping pattern %q: %v", pattern, err)
		} else {
			re = compiled
		}
	}

	c.mu.Lock()
	c.cache[pattern] = re
	c.mu.Unlock()
	return re
}

// Classify runs the pipeline: tickets, Outlook/Teams detection, generic
// typing, mapping application and billability.
func (c *Classifier) Classify(obs core.Observation, tables core.MappingTables, s core.Settings) core.Descriptor {
	d := core.Descriptor{
		App:      strings.TrimSpace(obs.AppName),
		Title:    strings.TrimSpace(obs.WindowTitle),
		URL:      strings.TrimSpace(obs.URL),
		Billable: true,
		Tickets:  []string{},
		Tags:     []string{},
	}
	browser := IsBrowser(d.App)

	tickets, tags := ExtractTickets(d.Title)
	d.Tickets = append(d.Tickets, tickets...)
	for _, t := range tags {
		d.Tags = core.AddUnique(d.Tags, t)
	}

	detectOffice(obs, browser, &d)
	applyTyping(obs, &d)
	c.applyMappings(&d, tables)

	if d.Project == "" {
		d.Project = s.DefaultProject
		if d.Project == "" {
			d.Project = core.DefaultSettings().DefaultProject
		}
	}

	if breakRe.MatchString(d.Title + " " + d.App) {
		d.Billable = false
		d.Tags = core.AddUnique(d.Tags, "break")
	}

	if browser {
		d.SetMetadata("browser", d.App)
	}
	if obs.ScheduledMeeting != "" {
		d.SetMetadata("scheduled_meeting", obs.ScheduledMeeting)
	}
	return d
}

// applyMappings sets project fields from the tables. The first rule that
// sets a project wins; earlier ticket and tag results are kept.
func (c *Classifier) applyMappings(d *core.Descriptor, tables core.MappingTables) {
	if d.MeetingSubject != "" && (d.Project == "" || d.Project == MeetingsProject) {
		if v, ok := c.matchRegexTable(tables.Meeting, d.MeetingSubject); ok {
			applyValue(d, v)
			return
		}
	}
	if d.Project != "" {
		return
	}
	if v, ok := c.match(d.Tickets, d.URL, d.Title, d.App, tables); ok {
		applyValue(d, v)
	}
}

// match runs the JIRA, URL and app-or-title stages in order.
func (c *Classifier) match(tickets []string, url, title, app string, tables core.MappingTables) (core.MappingValue, bool) {
	if len(tickets) > 0 && len(tables.Jira) > 0 {
		if key := JiraProjectKey(tickets[0]); key != "" {
			if v, ok := lookupFold(tables.Jira, key); ok {
				return v, true
			}
		}
	}
	if url != "" {
		lower := strings.ToLower(url)
		for _, p := range tables.URL.SortedPatterns() {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return tables.URL[p], true
			}
		}
	}
	for _, p := range tables.Project.SortedPatterns() {
		re := c.compile(p)
		if re == nil {
			continue
		}
		if re.MatchString(title) || re.MatchString(app) {
			return tables.Project[p], true
		}
	}
	return core.MappingValue{}, false
}

func (c *Classifier) matchRegexTable(table core.MappingTable, text string) (core.MappingValue, bool) {
	for _, p := range table.SortedPatterns() {
		re := c.compile(p)
		if re != nil && re.MatchString(text) {
			return table[p], true
		}
	}
	return core.MappingValue{}, false
}

func lookupFold(table core.MappingTable, key string) (core.MappingValue, bool) {
	if v, ok := table[key]; ok {
		return v, true
	}
	for _, k := range table.SortedPatterns() {
		if strings.EqualFold(k, key) {
			return table[k], true
		}
	}
	return core.MappingValue{}, false
}

func applyValue(d *core.Descriptor, v core.MappingValue) {
	if strings.TrimSpace(v.Project) == "" {
		return
	}
	d.Project = v.Project
	if v.Activity != "" {
		d.ActivityType = v.Activity
	}
	if v.SAPCode != "" {
		d.SAPCode = v.SAPCode
	}
	if v.CostCenter != "" {
		d.CostCenter = v.CostCenter
	}
	if v.WBSElement != "" {
		d.WBSElement = v.WBSElement
	}
}

// ProjectFor derives a mapping target for a URL and title, as used when a
// browser helper enriches the live record.
func (c *Classifier) ProjectFor(url, title, app string, tables core.MappingTables) (core.MappingValue, bool) {
	tickets, _ := ExtractTickets(title)
	return c.match(tickets, url, title, app, tables)
}
