package terminal

// Common errors
var (
	ErrSessionNotFound = &Error{Code: "session_not_found", Message: "Terminal session not found or expired"}
	ErrTokenInvalid    = &Error{Code: "token_invalid", Message: "Invalid or expired access token"}
	ErrTokenMismatch   = &Error{Code: "token_mismatch", Message: "Access token does not belong to this session"}
	ErrBrokerStopped   = &Error{Code: "broker_stopped", Message: "Terminal broker is shutting down"}
)

// Error represents a terminal session error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
