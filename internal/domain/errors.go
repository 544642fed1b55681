package domain

import "errors"

// Domain errors
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("prediction already exists")
	ErrInvalidRange      = errors.New("score out of range")
	ErrInvalidTransition = errors.New("cannot change teams of finished match")
	ErrWindowClosed      = errors.New("prediction window is closed")
	ErrMatchNotAvailable = errors.New("match is not open for predictions")
	ErrInvalidTeams      = errors.New("team names must not be empty")
	ErrInvalidRules      = errors.New("invalid points rule")
	ErrInvalidRequest    = errors.New("invalid request")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSoftError reports whether err is a user-facing rejection the caller should
// re-prompt on rather than treat as a failure.
func IsSoftError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrWindowClosed) ||
		errors.Is(err, ErrMatchNotAvailable) ||
		errors.Is(err, ErrInvalidTeams)
}
