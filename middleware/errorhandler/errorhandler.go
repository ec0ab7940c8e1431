package errorhandler

import (
	"errors"
	"fmt"

	errorskg "github.com/sweetpotato0/toolchat/errors"
	"github.com/sweetpotato0/toolchat/middleware"
)

// ErrorHandlerFunc handles errors
type ErrorHandlerFunc func(error) error

// ErrorHandler handles errors in the middleware chain
type ErrorHandler struct {
	handler ErrorHandlerFunc
}

// NewErrorHandler creates an error handling middleware
func NewErrorHandler(handler ErrorHandlerFunc) *ErrorHandler {
	return &ErrorHandler{handler: handler}
}

// Name returns the middleware name
func (m *ErrorHandler) Name() string {
	return "ErrorHandler"
}

// Execute handles errors from downstream middlewares
func (m *ErrorHandler) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil && m.handler != nil {
		return m.handler(err)
	}
	return err
}

// Describe rewrites model failures into a message fit for the user while
// keeping the original error reachable through errors.Is and errors.As.
func Describe(err error) error {
	var modelErr *errorskg.ModelRequestError
	switch {
	case errors.As(err, &modelErr) && modelErr.StatusCode == 401:
		return fmt.Errorf("model rejected the API key: %w", err)
	case errors.As(err, &modelErr) && modelErr.StatusCode == 429:
		return fmt.Errorf("model is rate limiting requests, try again shortly: %w", err)
	case errors.Is(err, middleware.ErrRateLimitExceeded):
		return fmt.Errorf("too many turns, slow down: %w", err)
	default:
		return err
	}
}
