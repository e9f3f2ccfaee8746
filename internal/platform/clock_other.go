//go:build !linux

package platform

import "time"

func monotonicNow() time.Duration {
	return time.Since(processStart)
}
