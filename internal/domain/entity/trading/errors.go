package trading

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed webhook payload.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthenticationError reports a failed broker login.
type AuthenticationError struct {
	Reason string
	Err    error
}

func NewAuthenticationError(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ConflictError reports a trade rejected by position-state rules.
type ConflictError struct {
	Symbol  string
	Message string
}

const (
	MsgPositionExists = "position already exists"
	MsgNoPosition     = "no position to close"
)

func NewConflictError(symbol, message string) *ConflictError {
	return &ConflictError{Symbol: symbol, Message: message}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s for %s", e.Message, e.Symbol)
}

// TransportError reports a socket or decoding failure talking to the broker.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
