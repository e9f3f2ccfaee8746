package api

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/quantumlife/worktrail/internal/core"
)

// Field limits for sanitized payloads.
const (
	maxURLLen     = 2000
	maxTitleLen   = 500
	maxBrowserLen = 50
	maxJiraLen    = 500
	maxGitHubLen  = 100
)

type statusResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Tracking bool   `json:"tracking"`
	Token    string `json:"token,omitempty"`
}

type browserActivityRequest struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Browser   string `json:"browser"`
	Timestamp any    `json:"timestamp"`
}

type pageContextRequest struct {
	URL  string         `json:"url"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type enrichResponse struct {
	Success bool `json:"success"`
	Applied bool `json:"applied"`
}

// handleStatus reports liveness. The token is only handed to extension
// origins, and to origin-less local callers outside development mode.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:   "ok",
		Version:  s.version,
		Tracking: s.engine.Running(),
	}
	origin := r.Header.Get("Origin")
	switch {
	case isExtensionOrigin(origin):
		resp.Token = s.token
	case origin == "" && !s.devMode:
		resp.Token = s.token
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBrowserActivity(w http.ResponseWriter, r *http.Request) {
	var req browserActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	evt := core.BrowserEvent{
		URL:       truncate(strings.TrimSpace(req.URL), maxURLLen),
		Title:     truncate(strings.TrimSpace(req.Title), maxTitleLen),
		Browser:   truncate(strings.TrimSpace(req.Browser), maxBrowserLen),
		Timestamp: parseTimestamp(req.Timestamp),
	}
	applied := s.engine.EnrichBrowser(evt)
	respondJSON(w, http.StatusOK, enrichResponse{Success: true, Applied: applied})
}

func (s *Server) handlePageContext(w http.ResponseWriter, r *http.Request) {
	var req pageContextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Data == nil {
		respondError(w, http.StatusBadRequest, "data is required")
		return
	}

	pc := core.PageContext{
		URL:  truncate(strings.TrimSpace(req.URL), maxURLLen),
		Type: core.PageContextType(strings.ToLower(strings.TrimSpace(req.Type))),
	}
	switch pc.Type {
	case core.PageJira:
		pc.Jira = &core.JiraContext{
			IssueKey:   truncate(stringField(req.Data, "issueKey"), maxJiraLen),
			Summary:    truncate(stringField(req.Data, "summary"), maxJiraLen),
			ProjectKey: truncate(stringField(req.Data, "projectKey"), maxJiraLen),
			Status:     truncate(stringField(req.Data, "status"), maxJiraLen),
		}
	case core.PageGitHub:
		pc.GitHub = &core.GitHubContext{
			Repo:   truncate(stringField(req.Data, "repo"), maxGitHubLen),
			Owner:  truncate(stringField(req.Data, "owner"), maxGitHubLen),
			Type:   githubKind(stringField(req.Data, "type")),
			Number: intField(req.Data, "number"),
		}
	default:
		respondError(w, http.StatusBadRequest, "type must be jira or github")
		return
	}

	applied := s.engine.EnrichPageContext(pc)
	respondJSON(w, http.StatusOK, enrichResponse{Success: true, Applied: applied})
}

// decodeBody reads a capped body into v and writes the error response
// itself when that fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "could not read body")
		return false
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "empty body")
		return false
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// parseTimestamp accepts epoch milliseconds or an RFC 3339 string. Anything
// else means "now".
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case float64:
		if ts > 0 && ts < math.MaxInt64 {
			return time.UnixMilli(int64(ts)).UTC()
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		if v >= 0 && v <= math.MaxInt32 {
			return int(v)
		}
	case string:
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(v), "#"))
		if err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// githubKind folds the helper's page kinds onto issue, pull or repo.
func githubKind(kind string) string {
	switch strings.ToLower(kind) {
	case "pr", "pull", "pulls", "pull_request", "pullrequest":
		return "pull"
	case "issue", "issues":
		return "issue"
	case "":
		return "repo"
	default:
		return truncate(strings.ToLower(kind), 20)
	}
}
