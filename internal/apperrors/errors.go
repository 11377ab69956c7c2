// Package apperrors defines the typed errors returned by the validation engine.
// Every rejection carries a machine-readable code and a kind so callers can map
// it to a response without inspecting message text.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups codes by how a caller should react.
type Kind string

const (
	// KindInput rejections must not be retried unchanged.
	KindInput Kind = "input"
	// KindConflict is informational: an offline scan contradicted by server state.
	KindConflict Kind = "conflict"
	// KindTransient failures may be retried by the caller.
	KindTransient Kind = "transient"
	KindInternal  Kind = "internal"
)

type Code string

const (
	CodeMalformedPayload           Code = "MALFORMED_PAYLOAD"
	CodeInvalidSignature           Code = "INVALID_SIGNATURE"
	CodeTicketNotFound             Code = "TICKET_NOT_FOUND"
	CodeTicketMismatch             Code = "TICKET_MISMATCH"
	CodeCampaignNotActive          Code = "CAMPAIGN_NOT_ACTIVE"
	CodeTicketCancelled            Code = "TICKET_CANCELLED"
	CodeTicketExpired              Code = "TICKET_EXPIRED"
	CodeScanLimitReached           Code = "SCAN_LIMIT_REACHED"
	CodeNotCampaignOwner           Code = "NOT_CAMPAIGN_OWNER"
	CodeManagerNotFound            Code = "MANAGER_NOT_FOUND"
	CodeManagerInactive            Code = "MANAGER_INACTIVE"
	CodeManagerNotAssignedToSeller Code = "MANAGER_NOT_ASSIGNED_TO_SELLER"
	CodeMissingValidator           Code = "MISSING_VALIDATOR"
	CodeOfflineConflict            Code = "OFFLINE_CONFLICT"
	CodeInvalidRequest             Code = "INVALID_REQUEST"
	CodeStoreUnavailable           Code = "STORE_UNAVAILABLE"
	CodeLockTimeout                Code = "LOCK_TIMEOUT"
	CodeInternal                   Code = "INTERNAL"
)

// Error is a domain error. Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may safely retry the same request.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// HTTPStatus maps the error onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeMalformedPayload, CodeInvalidSignature, CodeInvalidRequest, CodeMissingValidator:
		return http.StatusBadRequest
	case CodeTicketNotFound:
		return http.StatusNotFound
	case CodeNotCampaignOwner, CodeManagerNotFound, CodeManagerInactive, CodeManagerNotAssignedToSeller:
		return http.StatusForbidden
	case CodeScanLimitReached, CodeOfflineConflict:
		return http.StatusConflict
	case CodeCampaignNotActive, CodeTicketCancelled, CodeTicketExpired, CodeTicketMismatch:
		return http.StatusUnprocessableEntity
	case CodeStoreUnavailable, CodeLockTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, code Code, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

// Sentinels, usable as errors.Is targets.
var (
	ErrMalformedPayload           = newError(KindInput, CodeMalformedPayload, "QR payload could not be parsed")
	ErrInvalidSignature           = newError(KindInput, CodeInvalidSignature, "QR payload signature is invalid")
	ErrTicketNotFound             = newError(KindInput, CodeTicketNotFound, "ticket not found")
	ErrTicketMismatch             = newError(KindInput, CodeTicketMismatch, "QR payload does not match the ticket record")
	ErrCampaignNotActive          = newError(KindInput, CodeCampaignNotActive, "campaign is not active")
	ErrTicketCancelled            = newError(KindInput, CodeTicketCancelled, "ticket has been cancelled")
	ErrTicketExpired              = newError(KindInput, CodeTicketExpired, "ticket has expired")
	ErrScanLimitReached           = newError(KindInput, CodeScanLimitReached, "ticket has no scans remaining")
	ErrNotCampaignOwner           = newError(KindInput, CodeNotCampaignOwner, "user does not own this campaign")
	ErrManagerNotFound            = newError(KindInput, CodeManagerNotFound, "manager not found")
	ErrManagerInactive            = newError(KindInput, CodeManagerInactive, "manager account is inactive")
	ErrManagerNotAssignedToSeller = newError(KindInput, CodeManagerNotAssignedToSeller, "manager is not assigned to the campaign seller")
	ErrMissingValidator           = newError(KindInput, CodeMissingValidator, "request carries no validator identity")
	ErrOfflineConflict            = newError(KindConflict, CodeOfflineConflict, "offline scan contradicted by server state")
	ErrInvalidRequest             = newError(KindInput, CodeInvalidRequest, "invalid request")
	ErrStoreUnavailable           = newError(KindTransient, CodeStoreUnavailable, "data store unavailable, retry the request")
	ErrLockTimeout                = newError(KindTransient, CodeLockTimeout, "ticket is being validated elsewhere, retry the request")
	ErrInternal                   = newError(KindInternal, CodeInternal, "internal error")
)

// Wrap returns a copy of base carrying cause. base keeps its code and kind.
func Wrap(base *Error, cause error) *Error {
	return &Error{Code: base.Code, Kind: base.Kind, Message: base.Message, Err: cause}
}

// WithMessage returns a copy of base with a more specific message.
func WithMessage(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Kind: base.Kind, Message: fmt.Sprintf(format, args...), Err: base.Err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err; errors that are not *Error are internal.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsTransient reports whether err may be retried by the caller.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsTransientCode reports whether code, as carried in a result row, names a
// failure that may be retried.
func IsTransientCode(code string) bool {
	switch Code(code) {
	case CodeStoreUnavailable, CodeLockTimeout:
		return true
	}
	return false
}
