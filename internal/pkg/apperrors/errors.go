package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrUnauthorized        ErrorType = "UNAUTHORIZED"
	ErrNotAllowlisted      ErrorType = "NOT_ALLOWLISTED"
	ErrNoParserRegistered  ErrorType = "NO_PARSER_REGISTERED"
	ErrParseFailure        ErrorType = "PARSE_FAILURE"
	ErrNotConfigured       ErrorType = "NOT_CONFIGURED"
	ErrLimitExceeded       ErrorType = "LIMIT_EXCEEDED"
	ErrLossLimitExceeded   ErrorType = "LOSS_LIMIT_EXCEEDED"
	ErrStaleValuation      ErrorType = "STALE_VALUATION"
	ErrRecipientMismatch   ErrorType = "RECIPIENT_MISMATCH"
	ErrForwardingFailed    ErrorType = "FORWARDING_FAILED"
	ErrArrayLengthMismatch ErrorType = "ARRAY_LENGTH_MISMATCH"
	ErrInvalidRequest      ErrorType = "INVALID_REQUEST"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrRateLimited         ErrorType = "RATE_LIMITED"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...interface{}) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err is an AppError of the given type.
func Is(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrArrayLengthMismatch, ErrParseFailure:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotAllowlisted, ErrNoParserRegistered, ErrNotConfigured,
		ErrLimitExceeded, ErrLossLimitExceeded, ErrRecipientMismatch, ErrReadOnly:
		return http.StatusForbidden
	case ErrStaleValuation:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForwardingFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrLimitExceeded:
		return "Wait for the spending window to roll over or request a higher cap."
	case ErrNotAllowlisted:
		return "Ask the vault owner to allowlist this protocol for your sub-account."
	case ErrNoParserRegistered:
		return "The target protocol has no registered parser; execution is denied."
	case ErrStaleValuation:
		return "Wait for the next oracle valuation push and retry."
	case ErrNotConfigured:
		return "Ask the vault owner to configure spending limits for this sub-account."
	case ErrUnauthorized:
		return "Check the gateway key and the sub-account capabilities."
	case ErrForwardingFailed:
		return "The vault transaction failed; inspect the chain for details."
	default:
		return ""
	}
}
