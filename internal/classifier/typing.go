package classifier

import (
	"regexp"
	"strings"

	"github.com/quantumlife/worktrail/internal/core"
)

var (
	// IDE and editor application names, matched on word boundaries.
	ideAppRe = regexp.MustCompile(`(?i)\b(code|code - insiders|vscodium|visual studio|cursor|windsurf|zed|intellij|idea|goland|pycharm|webstorm|phpstorm|rubymine|clion|rider|datagrip|android studio|fleet|xcode|sublime(?:_text| text)?|atom|vim|gvim|nvim|neovim|emacs|eclipse|netbeans|nova)\b`)
	jetbrainsRe = regexp.MustCompile(`(?i)\b(intellij|idea|goland|pycharm|webstorm|phpstorm|rubymine|clion|rider|datagrip|android studio|fleet)\b`)

	devKeywordRe     = regexp.MustCompile(`(?i)\b(pull request|merge request|code review|stack overflow|github|gitlab|bitbucket|terminal|localhost)\b`)
	meetingKeywordRe = regexp.MustCompile(`(?i)\b(meeting|standup|stand-up|daily scrum|sync|1:1|one-on-one|retro|retrospective|huddle|webex|google meet|zoom meeting)\b`)
	featureKeywordRe = regexp.MustCompile(`(?i)\b(feature|feat|enhancement|implement|implementing|implementation|story)\b`)
	bugfixKeywordRe  = regexp.MustCompile(`(?i)\b(bug|bugs|bugfix|fix|fixes|fixed|fixing|hotfix|defect|crash|regression)\b`)

	// Workspace decorations such as "[SSH: host]" or "(Workspace)".
	workspaceSuffixRe = regexp.MustCompile(`\s*[\[(][^\])]*[\])]\s*$`)
	dirtyMarkerRe     = regexp.MustCompile(`^[●•*]\s*`)
)

// applyTyping adds generic activity tags and derives an IDE project.
func applyTyping(obs core.Observation, d *core.Descriptor) {
	text := obs.WindowTitle + " " + obs.AppName

	isIDE := ideAppRe.MatchString(obs.AppName)
	if isIDE || devKeywordRe.MatchString(text) {
		d.Tags = core.AddUnique(d.Tags, "development")
	}
	if meetingKeywordRe.MatchString(text) {
		d.Tags = core.AddUnique(d.Tags, "meeting")
	}
	if featureKeywordRe.MatchString(text) {
		d.Tags = core.AddUnique(d.Tags, "feature")
	}
	if bugfixKeywordRe.MatchString(text) {
		d.Tags = core.AddUnique(d.Tags, "bugfix")
	}

	if isIDE && d.Project == "" {
		if p := ideProject(obs.WindowTitle, jetbrainsRe.MatchString(obs.AppName)); p != "" {
			d.Project = p
		}
	}
}

// ideProject derives a project from editor window titles:
//
//	"main.rs - demo - Visual Studio Code"   -> demo
//	"demo [~/src/demo] – main.go"           -> demo (JetBrains)
func ideProject(title string, jetbrains bool) string {
	title = dirtyMarkerRe.ReplaceAllString(strings.TrimSpace(title), "")

	if jetbrains || strings.Contains(title, " – ") {
		parts := strings.Split(title, " – ")
		if len(parts) >= 2 {
			return cleanProject(parts[0])
		}
	}

	parts := strings.Split(title, " - ")
	if len(parts) >= 3 {
		return cleanProject(parts[len(parts)-2])
	}
	return ""
}

func cleanProject(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := workspaceSuffixRe.ReplaceAllString(s, "")
		if trimmed == s || trimmed == "" {
			break
		}
		s = strings.TrimSpace(trimmed)
	}
	return s
}
