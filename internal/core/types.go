// Package core defines the fundamental types for WorkTrail.
// Everything the tracking engine passes between components lives here.
package core

import (
	"sort"
	"strings"
	"time"
)

// Version is reported by the ingress status probe and the CLI.
const Version = "0.4.0"

// Date is a local civil date formatted as YYYY-MM-DD.
type Date string

// DateLayout is the layout used for Date values.
const DateLayout = "2006-01-02"

// -----------------------------------------------------------------------------
// OBSERVATION - a raw foreground-window snapshot
// -----------------------------------------------------------------------------

// Observation is produced by the platform probe and never persisted.
type Observation struct {
	AppName     string    `json:"app_name"`
	WindowTitle string    `json:"window_title"`
	URL         string    `json:"url,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`

	// ScheduledMeeting is the subject of a calendar meeting running at
	// CapturedAt, when a meetings provider is configured.
	ScheduledMeeting string `json:"scheduled_meeting,omitempty"`
}

// -----------------------------------------------------------------------------
// DESCRIPTOR - classified view of an observation
// -----------------------------------------------------------------------------

// EmailActivity is the kind of mail/calendar/chat work detected in a window.
type EmailActivity string

const (
	EmailNone      EmailActivity = ""
	EmailMeeting   EmailActivity = "meeting"
	EmailReading   EmailActivity = "email-reading"
	EmailComposing EmailActivity = "email-composing"
	EmailInbox     EmailActivity = "inbox"
	EmailCalendar  EmailActivity = "calendar"
	EmailChat      EmailActivity = "chat"
)

// MaxMetadataEntries bounds Descriptor.Metadata.
const MaxMetadataEntries = 32

// Descriptor is the output of the classifier.
type Descriptor struct {
	App            string            `json:"app"`
	Title          string            `json:"title"`
	URL            string            `json:"url,omitempty"`
	Project        string            `json:"project"`
	ActivityType   string            `json:"activity_type,omitempty"`
	SAPCode        string            `json:"sap_code,omitempty"`
	CostCenter     string            `json:"cost_center,omitempty"`
	WBSElement     string            `json:"wbs_element,omitempty"`
	Tickets        []string          `json:"tickets"`
	Tags           []string          `json:"tags"`
	Billable       bool              `json:"billable"`
	MeetingSubject string            `json:"meeting_subject,omitempty"`
	MeetingApp     string            `json:"meeting_app,omitempty"`
	EmailSubject   string            `json:"email_subject,omitempty"`
	EmailActivity  EmailActivity     `json:"email_activity,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Signature identifies a descriptor for adaptive sampling.
func (d Descriptor) Signature() string {
	return d.App + "|" + d.Project + "|" + d.Title
}

// HasTag reports whether tag is present.
func (d Descriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SetMetadata stores a metadata entry, dropping it once the map is full.
func (d *Descriptor) SetMetadata(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	if _, ok := d.Metadata[key]; !ok && len(d.Metadata) >= MaxMetadataEntries {
		return
	}
	d.Metadata[key] = value
}

// -----------------------------------------------------------------------------
// ACTIVITY - the persisted, duration-bearing record
// -----------------------------------------------------------------------------

// IdlePeriod is an interval with no user input.
type IdlePeriod struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration int64     `json:"duration"` // seconds
	Excluded bool      `json:"excluded"`
}

// Activity is a persisted record. It is mutated only by the consolidator.
type Activity struct {
	ID             string       `json:"id"`
	App            string       `json:"app"`
	Title          string       `json:"title"`
	Project        string       `json:"project"`
	URL            string       `json:"url,omitempty"`
	ActivityType   string       `json:"activity_type,omitempty"`
	SAPCode        string       `json:"sap_code,omitempty"`
	CostCenter     string       `json:"cost_center,omitempty"`
	WBSElement     string       `json:"wbs_element,omitempty"`
	Tickets        []string     `json:"tickets"`
	Tags           []string     `json:"tags"`
	Billable       bool         `json:"billable"`
	StartTime      time.Time    `json:"start_time"`
	EndTime        time.Time    `json:"end_time"`
	Duration       int64        `json:"duration"`        // seconds
	ActualDuration int64        `json:"actual_duration"` // seconds, <= Duration
	Date           Date         `json:"date"`
	IsManual       bool         `json:"is_manual"`
	IsIdle         bool         `json:"is_idle"`
	IdleStartTime  *time.Time   `json:"idle_start_time,omitempty"`
	IdlePeriods    []IdlePeriod `json:"idle_periods"`
}

// Key returns the per-day identity of the record.
func (a *Activity) Key() ActivityKey {
	return ActivityKey{App: a.App, Project: a.Project, Date: a.Date}
}

// Clone returns a deep copy.
func (a *Activity) Clone() *Activity {
	if a == nil {
		return nil
	}
	c := *a
	c.Tickets = append([]string(nil), a.Tickets...)
	c.Tags = append([]string(nil), a.Tags...)
	c.IdlePeriods = append([]IdlePeriod(nil), a.IdlePeriods...)
	if a.IdleStartTime != nil {
		t := *a.IdleStartTime
		c.IdleStartTime = &t
	}
	return &c
}

// ActivityKey is the (app, project, date) identity of a record.
type ActivityKey struct {
	App     string
	Project string
	Date    Date
}

// ActivityFilter selects records from the store. Zero fields match all.
type ActivityFilter struct {
	Date    Date
	From    Date // inclusive
	To      Date // inclusive
	App     string
	Project string
	IDs     []string
	Manual  *bool
	Idle    *bool
	Limit   int
}

// Matches reports whether a satisfies the filter (ignoring Limit).
func (f ActivityFilter) Matches(a *Activity) bool {
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.From != "" && a.Date < f.From {
		return false
	}
	if f.To != "" && a.Date > f.To {
		return false
	}
	if f.App != "" && a.App != f.App {
		return false
	}
	if f.Project != "" && a.Project != f.Project {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == a.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Manual != nil && a.IsManual != *f.Manual {
		return false
	}
	if f.Idle != nil && a.IsIdle != *f.Idle {
		return false
	}
	return true
}

// ActivityPatch is a partial update from the UI. Nil fields are untouched.
type ActivityPatch struct {
	Title        *string  `json:"title,omitempty"`
	Project      *string  `json:"project,omitempty"`
	ActivityType *string  `json:"activity_type,omitempty"`
	SAPCode      *string  `json:"sap_code,omitempty"`
	CostCenter   *string  `json:"cost_center,omitempty"`
	WBSElement   *string  `json:"wbs_element,omitempty"`
	Tickets      []string `json:"tickets,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Billable     *bool    `json:"billable,omitempty"`
	Duration     *int64   `json:"duration,omitempty"`
}

// -----------------------------------------------------------------------------
// FOCUS
// -----------------------------------------------------------------------------

// FocusSession is a contiguous interval dominated by one project.
type FocusSession struct {
	ID           string    `json:"id"`
	Date         Date      `json:"date"`
	Project      string    `json:"project"`
	Start        time.Time `json:"start"`
	Duration     int64     `json:"duration"` // seconds
	Distractions int       `json:"distractions"`
	Quality      int       `json:"quality"`
}

// -----------------------------------------------------------------------------
// MAPPINGS
// -----------------------------------------------------------------------------

// MappingKind selects one of the four mapping tables.
type MappingKind string

const (
	MappingProject MappingKind = "project" // app-or-title regex
	MappingURL     MappingKind = "url"     // URL substring
	MappingJira    MappingKind = "jira"    // JIRA project key
	MappingMeeting MappingKind = "meeting" // meeting subject regex
)

// ParseMappingKind validates a kind string.
func ParseMappingKind(s string) (MappingKind, bool) {
	switch MappingKind(strings.ToLower(strings.TrimSpace(s))) {
	case MappingProject:
		return MappingProject, true
	case MappingURL:
		return MappingURL, true
	case MappingJira:
		return MappingJira, true
	case MappingMeeting:
		return MappingMeeting, true
	}
	return "", false
}

// MappingValue is either a bare project name or a full target.
// A bare string decodes into Project only.
type MappingValue struct {
	Project    string `json:"project"`
	Activity   string `json:"activity,omitempty"`
	SAPCode    string `json:"sap_code,omitempty"`
	CostCenter string `json:"cost_center,omitempty"`
	WBSElement string `json:"wbs_element,omitempty"`
}

// IsBare reports whether the value carries only a project name.
func (v MappingValue) IsBare() bool {
	return v.Activity == "" && v.SAPCode == "" && v.CostCenter == "" && v.WBSElement == ""
}

// MappingTable maps pattern strings to values.
type MappingTable map[string]MappingValue

// SortedPatterns returns patterns longest first, then lexicographic.
func (t MappingTable) SortedPatterns() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// MappingTables is the read-only snapshot used by one classification.
type MappingTables struct {
	Project MappingTable `json:"project"`
	URL     MappingTable `json:"url"`
	Jira    MappingTable `json:"jira"`
	Meeting MappingTable `json:"meeting"`
}

// Table returns the table for kind.
func (m *MappingTables) Table(kind MappingKind) MappingTable {
	switch kind {
	case MappingProject:
		return m.Project
	case MappingURL:
		return m.URL
	case MappingJira:
		return m.Jira
	case MappingMeeting:
		return m.Meeting
	}
	return nil
}

// -----------------------------------------------------------------------------
// SETTINGS
// -----------------------------------------------------------------------------

// ConsolidationMode controls how aggressively samples merge.
type ConsolidationMode string

const (
	ModeStrict  ConsolidationMode = "strict"
	ModeRelaxed ConsolidationMode = "relaxed"
	ModeSmart   ConsolidationMode = "smart"
)

// Settings are the user-facing tracking settings persisted in the store.
// Durations are in seconds to match the persisted layout.
type Settings struct {
	IdleThreshold           int               `json:"idle_threshold"`
	IdleWarning             int               `json:"idle_warning"`
	ActivityThreshold       int               `json:"activity_threshold"`
	MinIdleMinutesForPrompt int               `json:"min_idle_minutes_for_prompt"`
	MinActivityDuration     int64             `json:"min_activity_duration"`
	SmartSampling           bool              `json:"smart_sampling"`
	ConsolidateActivities   bool              `json:"consolidate_activities"`
	ConsolidationMode       ConsolidationMode `json:"consolidation_mode"`
	ActivityLeniency        int               `json:"activity_leniency"`
	MergeGapThreshold       int               `json:"merge_gap_threshold"`
	DefaultProject          string            `json:"default_project"`
	WorkDayStart            string            `json:"work_day_start"`
	WorkDayEnd              string            `json:"work_day_end"`
	FocusTracking           bool              `json:"focus_tracking"`
	FocusRetentionDays      int               `json:"focus_retention_days"`
	DataRetentionDays       int               `json:"data_retention_days"`
	MaxActivities           int               `json:"max_activities"`
}

// DefaultSettings returns the factory settings.
func DefaultSettings() Settings {
	return Settings{
		IdleThreshold:           180,
		IdleWarning:             30,
		ActivityThreshold:       5,
		MinIdleMinutesForPrompt: 1,
		MinActivityDuration:     60,
		SmartSampling:           true,
		ConsolidateActivities:   true,
		ConsolidationMode:       ModeSmart,
		ActivityLeniency:        120,
		MergeGapThreshold:       300,
		DefaultProject:          "General",
		WorkDayStart:            "09:00",
		WorkDayEnd:              "17:00",
		FocusTracking:           true,
		FocusRetentionDays:      30,
		DataRetentionDays:       365,
		MaxActivities:           10000,
	}
}

// Normalize fills zero values with defaults.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.IdleThreshold <= 0 {
		s.IdleThreshold = d.IdleThreshold
	}
	if s.IdleWarning <= 0 || s.IdleWarning >= s.IdleThreshold {
		s.IdleWarning = d.IdleWarning
		if s.IdleWarning >= s.IdleThreshold {
			s.IdleWarning = s.IdleThreshold / 2
		}
	}
	if s.ActivityThreshold <= 0 {
		s.ActivityThreshold = d.ActivityThreshold
	}
	if s.MinIdleMinutesForPrompt < 0 {
		s.MinIdleMinutesForPrompt = d.MinIdleMinutesForPrompt
	}
	if s.MinActivityDuration < 0 {
		s.MinActivityDuration = d.MinActivityDuration
	}
	switch s.ConsolidationMode {
	case ModeStrict, ModeRelaxed, ModeSmart:
	default:
		s.ConsolidationMode = d.ConsolidationMode
	}
	if s.ActivityLeniency < 0 {
		s.ActivityLeniency = d.ActivityLeniency
	}
	if s.MergeGapThreshold <= 0 {
		s.MergeGapThreshold = d.MergeGapThreshold
	}
	if strings.TrimSpace(s.DefaultProject) == "" {
		s.DefaultProject = d.DefaultProject
	}
	if s.WorkDayStart == "" {
		s.WorkDayStart = d.WorkDayStart
	}
	if s.WorkDayEnd == "" {
		s.WorkDayEnd = d.WorkDayEnd
	}
	if s.FocusRetentionDays <= 0 {
		s.FocusRetentionDays = d.FocusRetentionDays
	}
	if s.DataRetentionDays <= 0 {
		s.DataRetentionDays = d.DataRetentionDays
	}
	if s.MaxActivities <= 0 {
		s.MaxActivities = d.MaxActivities
	}
	return s
}

// WithinWorkDay reports whether t falls inside the configured work-day bounds.
func (s Settings) WithinWorkDay(t time.Time) bool {
	start, ok1 := parseClock(s.WorkDayStart)
	end, ok2 := parseClock(s.WorkDayEnd)
	if !ok1 || !ok2 {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Overnight shift
	return minute >= start || minute < end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// -----------------------------------------------------------------------------
// STATUS & COMMAND RESULTS
// -----------------------------------------------------------------------------

// Status is the snapshot returned by get_status and pushed in TrackingUpdate.
type Status struct {
	IsTracking          bool          `json:"is_tracking"`
	IsPaused            bool          `json:"is_paused"`
	CurrentActivity     *Activity     `json:"current_activity,omitempty"`
	SessionStart        *time.Time    `json:"session_start,omitempty"`
	LastActive          *time.Time    `json:"last_active,omitempty"`
	SamplingRateSeconds int           `json:"sampling_rate_seconds"`
	FocusSession        *FocusSession `json:"focus_session,omitempty"`
	LastIdlePeriod      *IdlePeriod   `json:"last_idle_period,omitempty"`
	WithinWorkDay       bool          `json:"within_work_day"`
}

// CommandResult is returned by commands that may have nothing to do.
type CommandResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// -----------------------------------------------------------------------------
// INGRESS PAYLOADS
// -----------------------------------------------------------------------------

// BrowserEvent is a sanitized /browser-activity payload.
type BrowserEvent struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Browser   string    `json:"browser,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PageContextType discriminates page-context payloads.
type PageContextType string

const (
	PageJira   PageContextType = "jira"
	PageGitHub PageContextType = "github"
)

// JiraContext is the sanitized jira page data.
type JiraContext struct {
	IssueKey   string `json:"issueKey"`
	Summary    string `json:"summary"`
	ProjectKey string `json:"projectKey"`
	Status     string `json:"status"`
}

// GitHubContext is the sanitized github page data.
type GitHubContext struct {
	Repo   string `json:"repo"`
	Owner  string `json:"owner"`
	Type   string `json:"type"`
	Number int    `json:"number"`
}

// PageContext is a sanitized /page-context payload.
type PageContext struct {
	URL    string          `json:"url"`
	Type   PageContextType `json:"type"`
	Jira   *JiraContext    `json:"jira,omitempty"`
	GitHub *GitHubContext  `json:"github,omitempty"`
}

// -----------------------------------------------------------------------------
// EXTERNAL COLLABORATORS
// -----------------------------------------------------------------------------

// Meeting is a calendar entry returned by a MeetingsProvider.
type Meeting struct {
	Subject string    `json:"subject"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// MeetingsProvider is a read-only source of calendar meetings.
// Fetching and parsing calendars happens outside the engine.
type MeetingsProvider interface {
	MeetingAt(t time.Time) (*Meeting, bool)
}

// -----------------------------------------------------------------------------
// SET HELPERS
// -----------------------------------------------------------------------------

// AddUnique appends v to set if absent, preserving insertion order.
func AddUnique(set []string, v string) []string {
	for _, s := range set {
		if s == v {
			return set
		}
	}
	return append(set, v)
}

// Union returns a with the members of b appended in order.
func Union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		out = AddUnique(out, v)
	}
	return out
}

// Intersect counts the members shared by a and b.
func Intersect(a, b []string) int {
	n := 0
	for _, x := range a {
		for _, y := range b {
			if x == y {
				n++
				break
			}
		}
	}
	return n
}

// SortedSet returns a sorted copy without duplicates.
func SortedSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = AddUnique(out, v)
	}
	sort.Strings(out)
	return out
}
