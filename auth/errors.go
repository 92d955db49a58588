package auth

import "errors"

var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrEmptyKey           = errors.New("auth: empty api key")
	ErrEmptySecret        = errors.New("auth: empty jwt secret")
)
