package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Reason  string                 `json:"reason"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error class onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrTooManyRequests
	ErrPayloadTooLarge
)

// Reasons let clients tell apart errors that share a status code.
const (
	ReasonNotFound           = "NOT_FOUND"
	ReasonValidation         = "VALIDATION_FAILED"
	ReasonUnauthenticated    = "UNAUTHENTICATED"
	ReasonForbidden          = "FORBIDDEN"
	ReasonConflict           = "CONFLICT"
	ReasonInternal           = "INTERNAL"
	ReasonNoStagesDefined    = "NO_STAGES_DEFINED"
	ReasonInvalidTargetOrder = "INVALID_TARGET_ORDER"
	ReasonRoleNotAuthorized  = "ROLE_NOT_AUTHORIZED"
	ReasonNoRolesAssigned    = "NO_ROLES_ASSIGNED"
	ReasonStageInUse         = "STAGE_IN_USE"
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonPayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Reason:  ReasonNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonValidation,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Reason:  ReasonInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Reason:  ReasonUnauthenticated,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Reason:  ReasonForbidden,
		Message: message,
	}
}

func Conflict(message string, details map[string]interface{}) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Reason:  ReasonConflict,
		Message: message,
		Details: details,
	}
}

func TooManyRequests() *AppError {
	return &AppError{
		Code:    ErrTooManyRequests,
		Reason:  ReasonRateLimited,
		Message: "rate limit exceeded",
	}
}

func PayloadTooLarge(limit int64) *AppError {
	return &AppError{
		Code:    ErrPayloadTooLarge,
		Reason:  ReasonPayloadTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

// Stage workflow errors

func Unauthenticated() *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Reason:  ReasonUnauthenticated,
		Message: "authentication required",
	}
}

func NoRolesAssigned() *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Reason:  ReasonNoRolesAssigned,
		Message: "no roles assigned to the acting user",
	}
}

func RoleNotAuthorized(stage string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Reason:  ReasonRoleNotAuthorized,
		Message: fmt.Sprintf("none of the user's roles may act on stage %q", stage),
		Details: map[string]interface{}{"stage": stage},
	}
}

func NoStagesDefined() *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonNoStagesDefined,
		Message: "no stages defined for this case type",
	}
}

func InvalidTargetOrder(order, total int) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonInvalidTargetOrder,
		Message: fmt.Sprintf("target order %d is outside [1, %d]", order, total),
		Details: map[string]interface{}{"order": order, "total": total},
	}
}

func StageInUse(count int) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Reason:  ReasonStageInUse,
		Message: fmt.Sprintf("stage is referenced by %d case(s); retry with force to clean them up", count),
		Details: map[string]interface{}{"count": count},
	}
}

// HasReason reports whether err wraps an AppError with the given reason.
func HasReason(err error, reason string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason == reason
	}
	return false
}

// IsCode reports whether err wraps an AppError of the given class.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// WithDetails attaches structured details and returns the same error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
