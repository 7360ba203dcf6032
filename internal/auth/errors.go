package auth

import "errors"

var (
	ErrForbidden         = errors.New("auth: forbidden")
	ErrNotFound          = errors.New("auth: not found")
	ErrConflict          = errors.New("auth: conflict")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrInvalidInput      = errors.New("auth: invalid input")
)
