package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDataUnavailable    = errors.New("event data unavailable")
	ErrGenerationTimeout  = errors.New("artifact generation timed out")
	ErrFingerprintFailure = errors.New("notebook could not be fingerprinted")
)
