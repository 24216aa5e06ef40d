// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotFound                = errors.New("not found")
	ErrSymbolNotFound          = errors.New("symbol not found")
	ErrProviderUnavailable     = errors.New("provider unavailable")
	ErrRateLimited             = errors.New("rate limited")
	ErrTimeout                 = errors.New("operation timed out")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrUpstream                = errors.New("upstream error")
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
	ErrDeliveryFailed          = errors.New("delivery failed")
	ErrAlertNotFound           = errors.New("alert not found")
	ErrInvalidAlert            = errors.New("invalid alert")
	ErrConfigInvalid           = errors.New("invalid configuration")
	ErrDatabaseError           = errors.New("database error")
)

// IsTransient reports whether err is an upstream failure that a fallback
// chain should absorb and move past.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrUpstream)
}

// MarketError is returned across the aggregator boundary. It names the kind
// of failure and the symbol it failed for, without upstream payloads.
type MarketError struct {
	Kind   error
	Symbol string
	Source string
	Err    error
}

func (e *MarketError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Symbol, e.Kind)
	if e.Source != "" {
		msg = fmt.Sprintf("%s [%s]: %v", e.Symbol, e.Source, e.Kind)
	}
	if e.Err != nil && e.Err != e.Kind {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is matches the error kind so callers can use errors.Is(err, ErrSymbolNotFound).
func (e *MarketError) Is(target error) bool {
	return e.Kind == target
}

func (e *MarketError) Unwrap() error {
	return e.Err
}

// NewMarketError creates a new MarketError.
func NewMarketError(kind error, symbol, source string, err error) *MarketError {
	return &MarketError{
		Kind:   kind,
		Symbol: symbol,
		Source: source,
		Err:    err,
	}
}

// ProviderError represents a failed call to an upstream provider.
type ProviderError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s: status %d: %v", e.Provider, e.Endpoint, e.StatusCode, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s %s: %v: %v", e.Provider, e.Endpoint, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Endpoint, e.Kind)
}

func (e *ProviderError) Is(target error) bool {
	return e.Kind == target
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, endpoint string, status int, kind, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Endpoint:   endpoint,
		StatusCode: status,
		Kind:       kind,
		Err:        err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAlert
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, dropping nils. It returns nil when all are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
