// Package gwerrors defines the stable error-code taxonomy shared by the
// feed, proxy, and execution subsystems (spec.md §7).
package gwerrors

import "fmt"

// Code is one of the stable error codes clients and internal callers can
// switch on.
type Code string

const (
	// Client errors.
	InvalidJSON            Code = "INVALID_JSON"
	InvalidParameters      Code = "INVALID_PARAMETERS"
	InvalidAction          Code = "INVALID_ACTION"
	NotAuthenticated       Code = "NOT_AUTHENTICATED"
	LimitExceeded          Code = "LIMIT_EXCEEDED"
	NotSubscribed          Code = "NOT_SUBSCRIBED"
	UnsupportedDepthLevel  Code = "UNSUPPORTED_DEPTH_LEVEL"
	UnsupportedMode        Code = "UNSUPPORTED_MODE"

	// Auth errors.
	InvalidAPIKey       Code = "INVALID_API_KEY"
	AuthenticationError Code = "AUTHENTICATION_ERROR"

	// Broker errors.
	BrokerError      Code = "BROKER_ERROR"
	SymbolNotFound   Code = "SYMBOL_NOT_FOUND"
	NotConnected     Code = "NOT_CONNECTED"
	BrokerTimeout    Code = "BROKER_TIMEOUT"

	// Engine errors.
	InsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	QuantityNotMultipleOfLot Code = "QUANTITY_NOT_MULTIPLE_OF_LOT"
	MISBlockedAfterSquareoff Code = "MIS_BLOCKED_AFTER_SQUAREOFF"
	OrderNotFound            Code = "ORDER_NOT_FOUND"

	// System errors.
	ServerError     Code = "SERVER_ERROR"
	ProcessingError Code = "PROCESSING_ERROR"
)

// GatewayError is the typed error carried across every subsystem boundary
// named in spec.md §7. It implements Unwrap so callers can still use
// errors.Is/As against the wrapped cause.
type GatewayError struct {
	Code    Code
	Message string
	Cause   error
}

// New creates a GatewayError with no wrapped cause.
func New(code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Wrap creates a GatewayError that wraps an underlying error.
func Wrap(code Code, message string, cause error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, gwerrors.New(SomeCode, "")) to match purely on
// code, which is how call sites usually want to compare these.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
