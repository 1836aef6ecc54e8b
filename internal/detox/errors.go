package detox

import "errors"

var (
	ErrResolutionFailed = errors.New("failed to find videos")
	ErrNoContentFound   = errors.New("no videos found")
	ErrNoEngine         = errors.New("launcher returned no browser")
	ErrRunPanicked      = errors.New("detox run crashed")

	// ErrLoginUnverified is logged, never returned: the run keeps going
	ErrLoginUnverified = errors.New("login verification failed, cookies may be expired")
)
