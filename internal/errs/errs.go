// Package errs contains the error taxonomy shared by the sync engine, its
// service layer and the HTTP API.
package errs

import (
	"errors"
	"net/http"
	"strings"
)

// Code identifies a class of failure. Codes are stable and safe to expose to clients.
type Code string

const (
	CodeNotConnected         Code = "not_connected"
	CodeReconnectionRequired Code = "reconnection_required"
	CodeRefreshFailed        Code = "refresh_failed"
	CodeEmailMismatch        Code = "email_mismatch"
	CodeAppNotVerified       Code = "app_not_verified"
	CodeTestModeUserNotAdded Code = "test_mode_user_not_added"
	CodeAccessDenied         Code = "access_denied"
	CodeRedirectURIMismatch  Code = "redirect_uri_mismatch"
	CodeInvalidClient        Code = "invalid_client"
	CodeCodeExpired          Code = "code_expired"
	CodeOAuthUnknown         Code = "oauth_unknown"
	CodeInsufficientScope    Code = "insufficient_scope"
	CodeRemoteUnavailable    Code = "remote_unavailable"
	CodeNotFound             Code = "not_found"
	CodeInvalidInput         Code = "invalid_input"
	CodeUnauthorized         Code = "unauthorized"
)

// Error is a classified failure. Message is meant for the end user; Err keeps
// the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	// Remedy lists the steps a user can take to fix the problem, if any.
	Remedy []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinels work with errors.Is.
// A refresh failure also counts as "reconnection required".
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return e.Code == CodeRefreshFailed && t.Code == CodeReconnectionRequired
}

// Sentinels for errors.Is.
var (
	ErrNotConnected         = &Error{Code: CodeNotConnected}
	ErrReconnectionRequired = &Error{Code: CodeReconnectionRequired}
	ErrRefreshFailed        = &Error{Code: CodeRefreshFailed}
	ErrEmailMismatch        = &Error{Code: CodeEmailMismatch}
	ErrAppNotVerified       = &Error{Code: CodeAppNotVerified}
	ErrTestModeUserNotAdded = &Error{Code: CodeTestModeUserNotAdded}
	ErrAccessDenied         = &Error{Code: CodeAccessDenied}
	ErrRedirectURIMismatch  = &Error{Code: CodeRedirectURIMismatch}
	ErrInvalidClient        = &Error{Code: CodeInvalidClient}
	ErrCodeExpired          = &Error{Code: CodeCodeExpired}
	ErrOAuthUnknown         = &Error{Code: CodeOAuthUnknown}
	ErrInsufficientScope    = &Error{Code: CodeInsufficientScope}
	ErrRemoteUnavailable    = &Error{Code: CodeRemoteUnavailable}
	ErrNotFound             = &Error{Code: CodeNotFound}
	ErrInvalidInput         = &Error{Code: CodeInvalidInput}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized}
)

// New builds a classified error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Remedy: remedies[code]}
}

// Wrap classifies err under code.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Remedy: remedies[code], Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotConnected, CodeNotFound:
		return http.StatusNotFound
	case CodeReconnectionRequired, CodeRefreshFailed:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeEmailMismatch, CodeAccessDenied, CodeInsufficientScope:
		return http.StatusForbidden
	case CodeAppNotVerified, CodeTestModeUserNotAdded, CodeRedirectURIMismatch,
		CodeInvalidClient, CodeCodeExpired, CodeOAuthUnknown, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeRemoteUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var remedies = map[Code][]string{
	CodeNotConnected: {
		"Connect Google Calendar or Outlook from the study planner settings.",
	},
	CodeReconnectionRequired: {
		"Disconnect the calendar and connect it again to grant fresh access.",
	},
	CodeRefreshFailed: {
		"Try again in a few minutes.",
		"If it keeps failing, disconnect and reconnect the calendar.",
	},
	CodeEmailMismatch: {
		"Sign in to the calendar with the same email you use for your platform account.",
		"Sign out of other Google or Microsoft accounts in the browser before connecting.",
	},
	CodeAppNotVerified: {
		"The application is pending provider verification.",
		"Ask the administrator to add your account as a test user, or wait for verification.",
	},
	CodeTestModeUserNotAdded: {
		"The application is in testing mode and your account is not on the test user list.",
		"Ask the administrator to add your email in the OAuth consent screen settings.",
	},
	CodeAccessDenied: {
		"Accept every requested permission on the consent screen.",
		"Start the connection again if you cancelled it by mistake.",
	},
	CodeRedirectURIMismatch: {
		"The redirect URI configured in the provider console must match the application's callback URL exactly.",
		"Check scheme, host, port, path and trailing slash.",
	},
	CodeInvalidClient: {
		"The OAuth client id or secret is wrong or was revoked.",
		"Check the credentials in the server configuration.",
	},
	CodeCodeExpired: {
		"The authorization code expired or was already used.",
		"Start the connection again and finish it within a few minutes.",
	},
}
