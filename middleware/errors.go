package middleware

import (
	"errors"
	"fmt"

	errorskg "github.com/sweetpotato0/toolchat/errors"
)

var (
	// ErrRateLimitExceeded indicates rate limit has been exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidInput indicates input validation failed
	ErrInvalidInput = fmt.Errorf("middleware: %w", errorskg.ErrInvalidInput)

	// ErrInvalidContext indicates middleware context is invalid
	ErrInvalidContext = errors.New("invalid middleware context")
)
