package classifier

import (
	"regexp"
	"strings"
)

var (
	jiraTicketRe   = regexp.MustCompile(`(?i)\b[A-Za-z]{2,10}-\d+\b`)
	githubTicketRe = regexp.MustCompile(`#\d+`)
)

// ExtractTickets returns JIRA keys (uppercased) followed by GitHub issue
// references, each once, in order of first appearance. The tags slice holds
// "jira" and/or "github" for the kinds found.
func ExtractTickets(title string) (tickets, tags []string) {
	seen := make(map[string]struct{})
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tickets = append(tickets, t)
	}

	for _, m := range jiraTicketRe.FindAllString(title, -1) {
		add(strings.ToUpper(m))
	}
	if len(tickets) > 0 {
		tags = append(tags, "jira")
	}

	n := len(tickets)
	for _, m := range githubTicketRe.FindAllString(title, -1) {
		add(m)
	}
	if len(tickets) > n {
		tags = append(tags, "github")
	}
	return tickets, tags
}

// JiraProjectKey returns the project prefix of a JIRA key, or "" for
// anything else.
func JiraProjectKey(ticket string) string {
	if strings.HasPrefix(ticket, "#") {
		return ""
	}
	i := strings.IndexByte(ticket, '-')
	if i <= 0 {
		return ""
	}
	return strings.ToUpper(ticket[:i])
}
