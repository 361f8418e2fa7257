// Package errors provides standardized error handling for the onboarding flows.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Local validation
const (
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeConsentRequired   ErrorCode = "CONSENT_REQUIRED"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Verification domain
const (
	ErrCodePaymentNotCompleted     ErrorCode = "PAYMENT_NOT_COMPLETED"
	ErrCodePaymentCancelled        ErrorCode = "PAYMENT_CANCELLED"
	ErrCodePaymentFailed           ErrorCode = "PAYMENT_FAILED"
	ErrCodePaymentAlreadyConfirmed ErrorCode = "PAYMENT_ALREADY_CONFIRMED"
	ErrCodeMinimumFeeNotMet        ErrorCode = "MINIMUM_FEE_NOT_MET"
	ErrCodeCheckoutDiscarded       ErrorCode = "CHECKOUT_DISCARDED"
	ErrCodeInvalidOrExpiredCode    ErrorCode = "INVALID_OR_EXPIRED_CODE"
	ErrCodeOperationInFlight       ErrorCode = "OPERATION_IN_FLIGHT"
	ErrCodeAlreadySubmitted        ErrorCode = "ALREADY_SUBMITTED"
)

// Transport / server
const (
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	ErrCodeServer    ErrorCode = "SERVER_ERROR"
)

// Session
const (
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired  ErrorCode = "SESSION_EXPIRED"
)

const ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

// GenericServerMessage is shown when the backend gives no usable message.
const GenericServerMessage = "Something went wrong. Please try again."

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Fields    map[string]string      `json:"fields,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError carries the per-field error map of a failed step.
func NewValidationError(fields map[string]string) *StandardError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Please correct the highlighted fields",
		Details:   fmt.Sprintf("invalid fields: %s", strings.Join(keys, ", ")),
		Retryable: false,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
}

// NewFieldError reports a single malformed field.
func NewFieldError(field, message string) *StandardError {
	return NewValidationError(map[string]string{field: message})
}

func NewConsentRequiredError() *StandardError {
	return &StandardError{
		Code:      ErrCodeConsentRequired,
		Message:   "Please confirm the declaration before submitting",
		Retryable: false,
		Fields:    map[string]string{"consent": "Consent is required"},
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidTransitionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "This action is not available at the current step",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewPaymentNotCompletedError() *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentNotCompleted,
		Message:   "Please complete the membership payment to continue",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewPaymentCancelledError(orderID string) *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentCancelled,
		Message:   "Payment was cancelled",
		Details:   fmt.Sprintf("orderId: %s", orderID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewPaymentFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentFailed,
		Message:   "Payment could not be completed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewPaymentAlreadyConfirmedError() *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentAlreadyConfirmed,
		Message:   "Payment has already been confirmed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMinimumFeeNotMetError is raised before any order is created.
func NewMinimumFeeNotMetError(amount, minimum int) *StandardError {
	return &StandardError{
		Code:      ErrCodeMinimumFeeNotMet,
		Message:   fmt.Sprintf("Minimum membership fee is %d", minimum),
		Details:   fmt.Sprintf("amount: %d, minimum: %d", amount, minimum),
		Retryable: false,
		Fields:    map[string]string{"membership_fee": fmt.Sprintf("Minimum fee is %d", minimum)},
		Timestamp: time.Now().UTC(),
	}
}

// NewCheckoutDiscardedError is returned when a checkout result arrives after the
// wizard has moved on.
func NewCheckoutDiscardedError(orderID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCheckoutDiscarded,
		Message:   "Checkout result ignored because the payment step is no longer active",
		Details:   fmt.Sprintf("orderId: %s", orderID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidOrExpiredCodeError keeps the server message when one is given.
func NewInvalidOrExpiredCodeError(serverMessage string) *StandardError {
	msg := serverMessage
	if msg == "" {
		msg = "Invalid or expired code"
	}
	return &StandardError{
		Code:      ErrCodeInvalidOrExpiredCode,
		Message:   msg,
		Retryable: false,
		Fields:    map[string]string{"code": msg},
		Timestamp: time.Now().UTC(),
	}
}

func NewOperationInFlightError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOperationInFlight,
		Message:   "Please wait for the current request to finish",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewAlreadySubmittedError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlreadySubmitted,
		Message:   "Application has already been submitted",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportError wraps a network-level failure.
func NewTransportError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransport,
		Message:   GenericServerMessage,
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewServerError surfaces the backend's message verbatim, falling back to a
// generic message.
func NewServerError(operation string, status int, serverMessage string) *StandardError {
	msg := serverMessage
	if msg == "" {
		msg = GenericServerMessage
	}
	return &StandardError{
		Code:      ErrCodeServer,
		Message:   msg,
		Details:   fmt.Sprintf("operation: %s, status: %d", operation, status),
		Retryable: status >= 500,
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "No active session",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewSessionExpiredError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionExpired,
		Message:   "Your session has expired. Please sign in again",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandardError unwraps err into a *StandardError if it is one.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// FromError normalizes any error. Anything that is not already a StandardError
// is treated as a transport failure.
func FromError(operation string, err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return NewTransportError(operation, err)
}

// HasCode reports whether err is a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// IsRetryableErrorCode checks if an error code may be retried by the user.
// Nothing in the flows retries automatically.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeTransport, ErrCodeServer, ErrCodeOperationInFlight:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "CONSENT") ||
		strings.Contains(codeStr, "TRANSITION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "PAYMENT") || strings.Contains(codeStr, "FEE") ||
		strings.Contains(codeStr, "CHECKOUT") || strings.Contains(codeStr, "CODE") ||
		strings.Contains(codeStr, "IN_FLIGHT") || strings.Contains(codeStr, "SUBMITTED"):
		return "VERIFICATION"
	case strings.Contains(codeStr, "TRANSPORT") || strings.Contains(codeStr, "SERVER"):
		return "TRANSPORT"
	case strings.Contains(codeStr, "SESSION"):
		return "SESSION"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps an error code onto the host-facing status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed, ErrCodeConsentRequired, ErrCodeMinimumFeeNotMet:
		return http.StatusUnprocessableEntity
	case ErrCodeInvalidOrExpiredCode, ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeOperationInFlight, ErrCodeAlreadySubmitted, ErrCodePaymentAlreadyConfirmed,
		ErrCodeInvalidTransition, ErrCodePaymentNotCompleted, ErrCodeCheckoutDiscarded:
		return http.StatusConflict
	case ErrCodePaymentCancelled, ErrCodePaymentFailed:
		return http.StatusPaymentRequired
	case ErrCodeTransport, ErrCodeServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
