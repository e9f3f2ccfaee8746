// Package core defines the fundamental types and errors for WorkTrail.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Platform errors
	ErrNoWindow         = errors.New("no active window")
	ErrProbeTransient   = errors.New("platform probe temporarily unavailable")
	ErrProbeUnsupported = errors.New("platform probe unsupported")

	// Storage errors
	ErrStore          = errors.New("store i/o failed")
	ErrCorrupt        = errors.New("store data corrupted")
	ErrRecordNotFound = errors.New("record not found")
	ErrDecryption     = errors.New("decryption failed")

	// Tracker errors
	ErrTrackerStopped = errors.New("tracker is stopped")
	ErrNothingToDo    = errors.New("nothing to do")

	// Classifier errors
	ErrUnsafePattern  = errors.New("unsafe regular expression")
	ErrUnknownMapping = errors.New("unknown mapping kind")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
