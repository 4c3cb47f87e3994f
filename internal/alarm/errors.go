package alarm

import (
	"errors"

	"brightsched/internal/alarmclock"
	"brightsched/internal/brightness"
)

var (
	ErrRegistration        = errors.New("alarm registration failed")
	ErrCancellation        = errors.New("alarm cancellation failed")
	ErrMalformedIdentifier = errors.New("malformed alarm identifier")

	// ErrPermissionDenied is returned by appliers lacking write access to
	// the display settings.
	ErrPermissionDenied = brightness.ErrPermissionDenied
	ErrAutoUnavailable  = brightness.ErrAutoUnavailable

	// ErrSuperseded means a fire's re-arm lost to a cancel or a newer
	// registration of the same id.
	ErrSuperseded = alarmclock.ErrSuperseded
)
