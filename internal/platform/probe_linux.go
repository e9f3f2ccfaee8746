//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/worktrail/internal/core"
)

// CommandProbe talks to X11 through xdotool and xprintidle.
type CommandProbe struct {
	timeout time.Duration
	now     func() time.Time
}

// NewCommandProbe returns the probe for this platform.
func NewCommandProbe(timeout time.Duration) *CommandProbe {
	return &CommandProbe{timeout: timeout, now: time.Now}
}

func (p *CommandProbe) supported() bool {
	return os.Getenv("DISPLAY") != "" && haveBinaries("xdotool", "xprintidle")
}

// ActiveWindow implements Probe.
func (p *CommandProbe) ActiveWindow(ctx context.Context) (core.Observation, error) {
	if !p.supported() {
		return core.Observation{}, fmt.Errorf("%w: xdotool/xprintidle on an X display required", core.ErrProbeUnsupported)
	}

	title, err := runCommand(ctx, p.timeout, "xdotool", "getactivewindow", "getwindowname")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return core.Observation{}, core.ErrNoWindow
		}
		return core.Observation{}, transient("xdotool getwindowname", err)
	}

	app := ""
	if pidStr, err := runCommand(ctx, p.timeout, "xdotool", "getactivewindow", "getwindowpid"); err == nil {
		if pid, convErr := strconv.Atoi(pidStr); convErr == nil {
			if comm, readErr := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); readErr == nil {
				app = strings.TrimSpace(string(comm))
			}
		}
	}
	if app == "" {
		app = appFromTitle(title)
	}

	return core.Observation{
		AppName:     app,
		WindowTitle: title,
		CapturedAt:  p.now(),
	}, nil
}

// IdleSeconds implements Probe.
func (p *CommandProbe) IdleSeconds(ctx context.Context) (int, error) {
	if !p.supported() {
		return 0, core.ErrProbeUnsupported
	}
	out, err := runCommand(ctx, p.timeout, "xprintidle")
	if err != nil {
		return 0, transient("xprintidle", err)
	}
	ms, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return 0, transient("xprintidle", err)
	}
	return int(ms / 1000), nil
}

// appFromTitle takes the last " - " segment, which is where most
// applications put their own name.
func appFromTitle(title string) string {
	if i := strings.LastIndex(title, " - "); i >= 0 {
		return strings.TrimSpace(title[i+3:])
	}
	return title
}
