package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/toolchat/message"
	"github.com/sweetpotato0/toolchat/middleware"
)

// ValidatorFunc validates input
type ValidatorFunc func(string) error

// FilterFunc transforms or filters responses
type FilterFunc func(*message.Message) error

// NonEmpty rejects blank input.
func NonEmpty(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%w: input is empty", middleware.ErrInvalidInput)
	}
	return nil
}

// MaxLength rejects input longer than n characters.
func MaxLength(n int) ValidatorFunc {
	return func(input string) error {
		if l := utf8.RuneCountInString(input); l > n {
			return fmt.Errorf("%w: input has %d characters, limit is %d", middleware.ErrInvalidInput, l, n)
		}
		return nil
	}
}

// All runs validators in order and returns the first failure.
func All(validators ...ValidatorFunc) ValidatorFunc {
	return func(input string) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(input); err != nil {
				return err
			}
		}
		return nil
	}
}

// InputValidator validates input before the turn runs
type InputValidator struct {
	validator ValidatorFunc
}

// NewInputValidator creates an input validation middleware
func NewInputValidator(validator ValidatorFunc) *InputValidator {
	return &InputValidator{validator: validator}
}

// Name returns the middleware name
func (m *InputValidator) Name() string {
	return "InputValidator"
}

// Execute validates the input
func (m *InputValidator) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if m.validator != nil {
		if err := m.validator(ctx.Input); err != nil {
			return err
		}
	}
	return next(ctx)
}

// TrimResponse strips surrounding whitespace from the reply.
func TrimResponse(msg *message.Message) error {
	msg.Content = strings.TrimSpace(msg.Content)
	return nil
}

// ResponseFilter filters or transforms the final reply
type ResponseFilter struct {
	filter FilterFunc
}

// NewResponseFilter creates a response filtering middleware
func NewResponseFilter(filter FilterFunc) *ResponseFilter {
	return &ResponseFilter{filter: filter}
}

// Name returns the middleware name
func (m *ResponseFilter) Name() string {
	return "ResponseFilter"
}

// Execute filters the response
func (m *ResponseFilter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	err := next(ctx)
	if err != nil {
		return err
	}
	if ctx.Response != nil && m.filter != nil {
		return m.filter(ctx.Response)
	}
	return nil
}
