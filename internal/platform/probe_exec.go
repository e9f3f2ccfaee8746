package platform

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single external helper invocation.
const DefaultCommandTimeout = 30 * time.Second

// runCommand runs a helper binary and returns trimmed stdout.
func runCommand(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func haveBinaries(names ...string) bool {
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			return false
		}
	}
	return true
}
