package sqlagent

import "errors"

var (
	// ErrConnectivity marks failures to reach the model or database service.
	ErrConnectivity = errors.New("connectivity failure")
	// ErrAuthentication marks rejected credentials.
	ErrAuthentication = errors.New("authentication failure")

	ErrUnknownTool          = errors.New("unknown tool")
	ErrEmptyQuestion        = errors.New("question cannot be empty")
	ErrMissingAPIKey        = errors.New("model credential is required")
	ErrMissingConnectionURL = errors.New("database connection string is required")
	ErrInvalidIterationCap  = errors.New("max iterations must be at least 1")
)

// IsFatal reports whether err must abort a run instead of becoming an observation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectivity) || errors.Is(err, ErrAuthentication)
}
