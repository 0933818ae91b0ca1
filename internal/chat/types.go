package chat

// State is the lifecycle position of a Session.
type State int

const (
	StatePending State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrUsernameTaken    = errorString("username_taken")
	ErrUsernameEmpty    = errorString("username_empty")
	ErrUsernameReserved = errorString("username_reserved")
	ErrRegistryClosed   = errorString("registry_closed")
	ErrSessionClosed    = errorString("session_closed")
)

type errorString string

func (e errorString) Error() string { return string(e) }

// validateUsername reports why name cannot be registered, if at all.
func validateUsername(name string) error {
	if name == "" {
		return ErrUsernameEmpty
	}
	if IsCommand(name) {
		return ErrUsernameReserved
	}
	return nil
}
