package auth

import "errors"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("auth: secret is not configured")
	// ErrForbidden indicates the caller lacks a required role.
	ErrForbidden = errors.New("auth: forbidden")
)
