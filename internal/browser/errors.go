package browser

import "errors"

var (
	ErrLaunchFailed      = errors.New("browser launch failed")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrNavigationFailed  = errors.New("navigation failed")
	ErrSessionClosed     = errors.New("browser session closed")
	ErrContainerNotReady = errors.New("browser container not ready")
)
