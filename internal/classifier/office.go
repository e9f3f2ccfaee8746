package classifier

import (
	"regexp"
	"strings"

	"github.com/quantumlife/worktrail/internal/core"
)

// MeetingsProject is the project given to detected meetings before mappings.
const MeetingsProject = "Meetings"

var (
	outlookAppRe = regexp.MustCompile(`(?i)\boutlook\b`)
	outlookURLRe = regexp.MustCompile(`(?i)\b(outlook\.(office|office365|live)\.com)\b`)
	teamsAppRe   = regexp.MustCompile(`(?i)\b(ms-?)?teams\b`)
	teamsURLRe   = regexp.MustCompile(`(?i)\bteams\.(microsoft|live)\.com\b`)
	zoomAppRe    = regexp.MustCompile(`(?i)\bzoom(\.us)?\b`)

	// Outlook desktop and web titles, most specific first.
	outlookMeetingRe   = regexp.MustCompile(`(?i)^(.+?)\s+-\s+(?:Meeting|Appointment)(?:\s+Occurrence|\s+Series)?\b`)
	outlookComposeRe   = regexp.MustCompile(`(?i)^(?:(?:RE|FW|FWD|AW|WG):\s*)(.*?)\s+-\s+Message\b|^Untitled\s+-\s+Message\b`)
	outlookMessageRe   = regexp.MustCompile(`(?i)^(.*?)\s+-\s+Message\s*\(`)
	outlookInboxRe     = regexp.MustCompile(`(?i)^(?:Mail\s+-\s+)?Inbox\b`)
	outlookCalendarRe  = regexp.MustCompile(`(?i)^Calendar\b`)
	outlookMailTitleRe = regexp.MustCompile(`(?i)^(.+?)\s+-\s+[^\s@]+@[^\s@]+\s+-\s+Outlook`)

	outlookWebComposeRe  = regexp.MustCompile(`(?i)/(compose|deeplink/compose)\b`)
	outlookWebCalendarRe = regexp.MustCompile(`(?i)/calendar\b`)
	outlookWebReadRe     = regexp.MustCompile(`(?i)/mail/[^?#]*/id/`)
	outlookWebInboxRe    = regexp.MustCompile(`(?i)/mail(/inbox)?/?(\?|#|$)`)

	teamsSuffixRe  = regexp.MustCompile(`(?i)\s*\|\s*Microsoft Teams(\s*\(.*\))?\s*$`)
	teamsMeetingRe = regexp.MustCompile(`(?i)^(?:Meeting\s+(?:with|in)\s+)?(.+)$`)

	zoomMeetingRe = regexp.MustCompile(`(?i)\bzoom\s+(meeting|webinar)\b`)
)

// teamsChrome are the Teams view names that never name a meeting.
var teamsChrome = map[string]bool{
	"chat": true, "activity": true, "calendar": true,
	"teams": true, "files": true, "apps": true,
}

// detectOffice runs the Outlook/Teams/Zoom cascade and fills meeting and
// email fields on d. It reports whether anything matched.
func detectOffice(obs core.Observation, browser bool, d *core.Descriptor) bool {
	title := strings.TrimSpace(obs.WindowTitle)
	app := obs.AppName

	switch {
	case outlookAppRe.MatchString(app) || (browser && outlookURLRe.MatchString(obs.URL)):
		return detectOutlook(title, obs, browser, d)
	case teamsAppRe.MatchString(app) || teamsSuffixRe.MatchString(title) || (browser && teamsURLRe.MatchString(obs.URL)):
		return detectTeams(title, obs, d)
	case zoomAppRe.MatchString(app) && zoomMeetingRe.MatchString(title):
		setMeeting(d, obs.ScheduledMeeting, "Zoom")
		return true
	}
	return false
}

func detectOutlook(title string, obs core.Observation, browser bool, d *core.Descriptor) bool {
	if m := outlookMeetingRe.FindStringSubmatch(title); m != nil {
		setMeeting(d, m[1], "Outlook")
		return true
	}
	if m := outlookComposeRe.FindStringSubmatch(title); m != nil {
		setEmail(d, core.EmailComposing, m[1])
		return true
	}
	if m := outlookMessageRe.FindStringSubmatch(title); m != nil {
		setEmail(d, core.EmailReading, m[1])
		return true
	}
	if outlookInboxRe.MatchString(title) {
		setEmail(d, core.EmailInbox, "")
		return true
	}
	if outlookCalendarRe.MatchString(title) {
		setEmail(d, core.EmailCalendar, "")
		return true
	}

	if browser && obs.URL != "" {
		switch {
		case outlookWebComposeRe.MatchString(obs.URL):
			setEmail(d, core.EmailComposing, "")
			return true
		case outlookWebCalendarRe.MatchString(obs.URL):
			setEmail(d, core.EmailCalendar, "")
			return true
		case outlookWebReadRe.MatchString(obs.URL):
			setEmail(d, core.EmailReading, mailSubject(title))
			return true
		case outlookWebInboxRe.MatchString(obs.URL):
			setEmail(d, core.EmailInbox, "")
			return true
		}
	}

	if m := outlookMailTitleRe.FindStringSubmatch(title); m != nil {
		setEmail(d, core.EmailReading, m[1])
		return true
	}
	return false
}

// mailSubject trims the "- Outlook" style suffixes from a web mail title.
func mailSubject(title string) string {
	parts := strings.Split(title, " - ")
	if len(parts) > 1 {
		return strings.TrimSpace(parts[0])
	}
	return title
}

func detectTeams(title string, obs core.Observation, d *core.Descriptor) bool {
	stripped := strings.TrimSpace(teamsSuffixRe.ReplaceAllString(title, ""))
	parts := strings.Split(stripped, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	head := strings.ToLower(parts[0])

	switch head {
	case "chat":
		subject := ""
		if len(parts) > 1 {
			subject = parts[1]
		}
		d.EmailActivity = core.EmailChat
		d.EmailSubject = subject
		d.Tags = core.AddUnique(d.Tags, "chat")
		return true
	case "calendar":
		setEmail(d, core.EmailCalendar, "")
		return true
	}

	subject := ""
	if m := teamsMeetingRe.FindStringSubmatch(parts[0]); m != nil {
		subject = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	if isTeamsChrome(subject) {
		subject = ""
	}
	if subject == "" {
		subject = obs.ScheduledMeeting
	}
	if subject == "" {
		return false
	}
	setMeeting(d, subject, "Teams")
	return true
}

// isTeamsChrome reports whether subject reduces to Teams view names only.
func isTeamsChrome(subject string) bool {
	words := strings.FieldsFunc(strings.ToLower(subject), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if !teamsChrome[w] && w != "microsoft" {
			return false
		}
	}
	return true
}

func setMeeting(d *core.Descriptor, subject, app string) {
	subject = strings.TrimSpace(subject)
	d.EmailActivity = core.EmailMeeting
	d.MeetingApp = app
	d.MeetingSubject = subject
	if d.Project == "" {
		d.Project = MeetingsProject
	}
	d.Tags = core.AddUnique(d.Tags, "meeting")
}

func setEmail(d *core.Descriptor, kind core.EmailActivity, subject string) {
	d.EmailActivity = kind
	d.EmailSubject = strings.TrimSpace(subject)
	switch kind {
	case core.EmailCalendar:
		d.Tags = core.AddUnique(d.Tags, "calendar")
	default:
		d.Tags = core.AddUnique(d.Tags, "email")
	}
}
