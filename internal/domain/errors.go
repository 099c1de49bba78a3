package domain

import "errors"

// Error taxonomy surfaced at the gateway boundary. The HTTP layer maps these
// with errors.Is; wrapped storage detail stays out of responses.
var (
	ErrUnauthorized        = errors.New("invalid API key")
	ErrForbidden           = errors.New("admins only")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrInvalidPattern      = errors.New("invalid regex pattern")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
)
