package session

import "errors"

var (
	// ErrLaunchFailed tags a Start failure for callers that report it.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrInvalidWorkDir rejects a working directory that is not a directory.
	ErrInvalidWorkDir = errors.New("invalid work dir")
	// ErrSessionNotFound is returned for unknown handles.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPushUnavailable means the push server could not be started; the
	// session falls back to polling.
	ErrPushUnavailable = errors.New("push channel unavailable")
	// ErrMaxSessions is returned when the session table is full.
	ErrMaxSessions = errors.New("maximum session limit reached")
)
