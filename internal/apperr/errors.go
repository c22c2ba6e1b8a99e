// Package apperr holds the error kinds shared by the booking, queue and
// affiliation packages. Domain packages wrap these so the HTTP layer can map
// any failure to a status code with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidAction     = errors.New("invalid action")
	ErrNotAffiliated     = errors.New("doctor is not affiliated with facility")
	ErrSlotTaken         = errors.New("slot already taken")
	ErrVersionConflict   = errors.New("concurrent update, please retry")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
)

// Retryable reports whether the caller may safely repeat the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
