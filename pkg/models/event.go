package models

// EventName identifies a push event on the wire
type EventName string

const (
	EventConnected EventName = "connected"
	EventLog       EventName = "log"
	EventComplete  EventName = "detoxComplete"
	EventError     EventName = "detoxError"
)

// LogType classifies a non-terminal log event
type LogType string

const (
	LogInProgress LogType = "status-in-progress"
	LogSuccess    LogType = "status-success"
	LogError      LogType = "status-error"
)

// Event is a single message pushed to a subscriber
type Event struct {
	Name EventName `json:"event"`
	Data any       `json:"data"`
}

// LogPayload is the body of a log event
type LogPayload struct {
	Message string         `json:"message"`
	Type    LogType        `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// CompletePayload is the body of a detoxComplete event
type CompletePayload struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	WatchedSeconds float64 `json:"watchedSeconds"`
}

// ErrorPayload is the body of a detoxError event
type ErrorPayload struct {
	Message string `json:"message"`
}

// ConnectedPayload tells a new subscriber its id
type ConnectedPayload struct {
	ID string `json:"id"`
}

// Progress builds an in-progress log event.
func Progress(message string, details map[string]any) Event {
	return Event{Name: EventLog, Data: LogPayload{Message: message, Type: LogInProgress, Details: details}}
}

// Success builds a success log event.
func Success(message string) Event {
	return Event{Name: EventLog, Data: LogPayload{Message: message, Type: LogSuccess}}
}

// Warning builds an error-typed log event that does not end the run.
func Warning(message string) Event {
	return Event{Name: EventLog, Data: LogPayload{Message: message, Type: LogError}}
}

// Complete builds the terminal success event.
func Complete(message string, watchedSeconds float64) Event {
	return Event{Name: EventComplete, Data: CompletePayload{Success: true, Message: message, WatchedSeconds: watchedSeconds}}
}

// Failure builds the terminal error event.
func Failure(message string) Event {
	return Event{Name: EventError, Data: ErrorPayload{Message: message}}
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	return e.Name == EventComplete || e.Name == EventError
}
