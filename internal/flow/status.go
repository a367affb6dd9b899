package flow

// Status is the lifecycle state of a Flow.
type Status int

const (
	// StatusIdle is a flow that has not been started.
	StatusIdle Status = iota

	// StatusAuthorizing waits for the browser redirect.
	StatusAuthorizing

	// StatusExchanging redeems the authorization code.
	StatusExchanging

	// StatusComplete means tokens were validated and persisted.
	StatusComplete

	// StatusFailed means the flow ended with an error.
	StatusFailed

	// StatusCancelled means the flow was cancelled by the user or the caller.
	StatusCancelled
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAuthorizing:
		return "authorizing"
	case StatusExchanging:
		return "exchanging"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}
