package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady is returned when an operation requires a Ready provider session.
	ErrNotReady = errors.New("provider session not ready")

	// ErrTerminated is returned for work submitted to a session after teardown.
	ErrTerminated = errors.New("provider session terminated")

	// ErrTurnInFlight is returned when a conversation already has an outstanding turn.
	ErrTurnInFlight = errors.New("conversation turn already in flight")
)

// TransportError reports a failure of the provider subprocess or its protocol stream.
// It is terminal for the session that produced it.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToolExecutionError reports that a provider rejected or failed a tool call.
type ToolExecutionError struct {
	Provider string
	Tool     string
	Message  string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, msg)
	}
	return fmt.Sprintf("tool %s on %s: %s", e.Tool, e.Provider, msg)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ModelRequestError reports a failed completion request. StatusCode is zero when
// the request never produced an HTTP response.
type ModelRequestError struct {
	Model      string
	StatusCode int
	Body       string
	Err        error
}

func (e *ModelRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model %s: status %d: %v", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ModelRequestError) Unwrap() error { return e.Err }

// ConfigError reports an invalid or missing provider or model definition.
type ConfigError struct {
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Subject, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
