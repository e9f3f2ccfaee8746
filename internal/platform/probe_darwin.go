//go:build darwin

package platform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

const frontWindowScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set winTitle to ""
	try
		set winTitle to name of front window of frontApp
	end try
end tell
return appName & "\n" & winTitle`

var hidIdlePattern = regexp.MustCompile(`"HIDIdleTime"\s*=\s*(\d+)`)

// CommandProbe talks to macOS through osascript and ioreg.
type CommandProbe struct {
	timeout time.Duration
	now     func() time.Time
}

// NewCommandProbe returns the probe for this platform.
func NewCommandProbe(timeout time.Duration) *CommandProbe {
	return &CommandProbe{timeout: timeout, now: time.Now}
}

// ActiveWindow implements Probe.
func (p *CommandProbe) ActiveWindow(ctx context.Context) (core.Observation, error) {
	if !haveBinaries("osascript") {
		return core.Observation{}, core.ErrProbeUnsupported
	}
	out, err := runCommand(ctx, p.timeout, "osascript", "-e", frontWindowScript)
	if err != nil {
		return core.Observation{}, transient("osascript", err)
	}
	app, title, _ := strings.Cut(out, "\n")
	if strings.TrimSpace(app) == "" {
		return core.Observation{}, core.ErrNoWindow
	}
	return core.Observation{
		AppName:     strings.TrimSpace(app),
		WindowTitle: strings.TrimSpace(title),
		CapturedAt:  p.now(),
	}, nil
}

// IdleSeconds implements Probe.
func (p *CommandProbe) IdleSeconds(ctx context.Context) (int, error) {
	if !haveBinaries("ioreg") {
		return 0, core.ErrProbeUnsupported
	}
	out, err := runCommand(ctx, p.timeout, "ioreg", "-c", "IOHIDSystem")
	if err != nil {
		return 0, transient("ioreg", err)
	}
	m := hidIdlePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("ioreg: %w: HIDIdleTime missing", core.ErrProbeTransient)
	}
	ns, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, transient("ioreg", err)
	}
	return int(ns / int64(time.Second)), nil
}
