// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apperrors defines the error vocabulary of the authorization server.
// Every user-visible failure carries a stable reason string and the HTTP
// status it surfaces with. API responses serialize to
// {"status":N,"error":true,"reason":"ERRORS.X"}; HTML responses render the
// error template keyed by the same reason.
package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Reason strings. Most use the ERRORS. prefix; UNSUPPORTED_GRANT_TYPE and
// WRONG_CLIENT_SECRET keep the singular ERROR. prefix their consumers match on.
const (
	ReasonNotAcceptableRequest       = "ERRORS.NOT_ACCEPTABLE_REQUEST"
	ReasonNoTenant                   = "ERRORS.NO_TENANT"
	ReasonMissingTenant              = "ERRORS.MISSING_TENANT"
	ReasonNoClient                   = "ERRORS.NO_CLIENT"
	ReasonWrongClientSecret          = "ERROR.WRONG_CLIENT_SECRET"
	ReasonUnsupportedGrantType       = "ERROR.UNSUPPORTED_GRANT_TYPE"
	ReasonInvalidCode                = "ERRORS.INVALID_CODE"
	ReasonInvalidToken               = "ERRORS.INVALID_TOKEN"
	ReasonCodeChallengeMismatch      = "ERRORS.CODE_CHALLENGE_METHOD_MISMATCH"
	ReasonTenantMismatch             = "ERRORS.TENANT_MISMATCH"
	ReasonRedirectMismatch           = "ERRORS.REDIRECT_MISMATCH"
	ReasonWrongReferer               = "ERRORS.WRONG_REFERER"
	ReasonClientOnlySupportsPKCE     = "ERRORS.CLIENT_ONLY_SUPPORTS_PKCE"
	ReasonWrongCredentials           = "ERRORS.WRONG_CREDENTIALS"
	ReasonInvalidate                 = "ERRORS.INVALIDATE"
	ReasonExpectedValueUnset         = "ERRORS.EXPECTED_VALUE_UNSET"
	ReasonCodeStorageAvailability    = "ERRORS.CODE_STORAGE_AVAILABILITY"
	ReasonTenantNotAllowed           = "ERRORS.TENANT_NOT_ALLOWED"
	ReasonBadLoginID                 = "ERRORS.BADLOGINID"
	ReasonCodeTaken                  = "ERRORS.CODE_TAKEN"
	ReasonUnauthorized               = "ERRORS.UNAUTHORIZED"
)

// Error is a failure with a stable reason and HTTP status.
type Error struct {
	// Status is the HTTP status code the error surfaces with.
	Status int

	// Reason is the stable reason string (ERRORS.* / ERROR.*).
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Cause)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by reason so sentinel comparison works through wrapping.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Reason == other.Reason
	}
	return false
}

// MarshalJSON serializes the wire shape consumed by API clients.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status int    `json:"status"`
		Error  bool   `json:"error"`
		Reason string `json:"reason"`
	}{Status: e.Status, Error: true, Reason: e.Reason})
}

// New creates an Error with the given status and reason.
func New(status int, reason string) *Error {
	return &Error{Status: status, Reason: reason}
}

// Wrap creates an Error with an underlying cause.
func Wrap(status int, reason string, cause error) *Error {
	return &Error{Status: status, Reason: reason, Cause: cause}
}

// Sentinel errors per the reason table. Handlers return these (optionally
// wrapped) and the HTTP layer maps them onto responses.
var (
	ErrNotAcceptableRequest    = New(http.StatusBadRequest, ReasonNotAcceptableRequest)
	ErrNoTenant                = New(http.StatusBadRequest, ReasonNoTenant)
	ErrMissingTenant           = New(http.StatusBadRequest, ReasonMissingTenant)
	ErrNoClient                = New(http.StatusBadRequest, ReasonNoClient)
	ErrWrongClientSecret       = New(http.StatusUnauthorized, ReasonWrongClientSecret)
	ErrUnsupportedGrantType    = New(http.StatusBadRequest, ReasonUnsupportedGrantType)
	ErrInvalidCode             = New(http.StatusForbidden, ReasonInvalidCode)
	ErrInvalidToken            = New(http.StatusUnauthorized, ReasonInvalidToken)
	ErrCodeChallengeMismatch   = New(http.StatusForbidden, ReasonCodeChallengeMismatch)
	ErrTenantMismatch          = New(http.StatusForbidden, ReasonTenantMismatch)
	ErrRedirectMismatch        = New(http.StatusForbidden, ReasonRedirectMismatch)
	ErrWrongReferer            = New(http.StatusForbidden, ReasonWrongReferer)
	ErrClientOnlySupportsPKCE  = New(http.StatusBadRequest, ReasonClientOnlySupportsPKCE)
	ErrWrongCredentials        = New(http.StatusForbidden, ReasonWrongCredentials)
	ErrInvalidate              = New(http.StatusForbidden, ReasonInvalidate)
	ErrExpectedValueUnset      = New(http.StatusInternalServerError, ReasonExpectedValueUnset)
	ErrCodeStorageAvailability = New(http.StatusInsufficientStorage, ReasonCodeStorageAvailability)
	ErrTenantNotAllowed        = New(http.StatusForbidden, ReasonTenantNotAllowed)
	ErrBadLoginID              = New(http.StatusBadRequest, ReasonBadLoginID)
	ErrUnauthorized            = New(http.StatusUnauthorized, ReasonUnauthorized)
)

// FromError extracts an *Error from err, defaulting to EXPECTED_VALUE_UNSET
// for untyped failures so internal errors never leak details to clients.
func FromError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(http.StatusInternalServerError, ReasonExpectedValueUnset, err)
}
