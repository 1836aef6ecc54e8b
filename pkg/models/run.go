package models

import (
	"math"
	"time"
)

// RunState represents where a detox run is in its lifecycle
type RunState string

const (
	StateStarting              RunState = "STARTING"
	StateValidatingCredentials RunState = "VALIDATING_CREDENTIALS"
	StateResolvingContent      RunState = "RESOLVING_CONTENT"
	StateLaunching             RunState = "LAUNCHING"
	StateVerifyingLogin        RunState = "VERIFYING_LOGIN"
	StateWatching              RunState = "WATCHING"
	StateCompleted             RunState = "COMPLETED"
	StateFailed                RunState = "FAILED"
)

// DefaultDurationSeconds is used when a request does not carry a duration
const DefaultDurationSeconds = 60

// Run is a snapshot of an active detox run
type Run struct {
	ID             string    `json:"id"`
	SubscriberID   string    `json:"subscriberId"`
	Topic          string    `json:"topic"`
	State          RunState  `json:"state"`
	BudgetSeconds  float64   `json:"budgetSeconds"`
	WatchedSeconds float64   `json:"watchedSeconds"`
	StartedAt      time.Time `json:"startedAt"`
}

// DetoxRequest is the payload for starting a detox run
type DetoxRequest struct {
	Topic           string   `json:"topic"`
	Duration        *float64 `json:"duration,omitempty"` // seconds
	UserCredentials string   `json:"userCredentials"`
	SubscriberID    string   `json:"subscriberId"`
}

// Budget returns the requested watch budget, applying the default duration.
// Negative durations are treated as zero and durations too large for a
// time.Duration saturate at the maximum.
func (r DetoxRequest) Budget() time.Duration {
	seconds := float64(DefaultDurationSeconds)
	if r.Duration != nil {
		seconds = *r.Duration
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds >= math.MaxInt64/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

// DetoxResponse acknowledges a started run
type DetoxResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"runId"`
	Message string `json:"message"`
}
