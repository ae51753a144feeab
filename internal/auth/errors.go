package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: resource conflict")
	// ErrUnauthenticated never says which credential was wrong.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	// ErrInvalidToken matches ErrUnauthenticated under errors.Is.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
)
