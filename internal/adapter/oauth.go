// Package adapter holds pieces shared by the provider adapters.
package adapter

import (
	"errors"
	"strings"

	"golang.org/x/oauth2"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// TokensFrom converts an oauth2 token into the provider-neutral form.
func TokensFrom(tok *oauth2.Token) core.Tokens {
	t := core.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		t.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	return t
}

// ClassifyExchangeError maps a failed code exchange to the OAuth taxonomy.
func ClassifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return errs.Wrap(errs.CodeRemoteUnavailable, "token endpoint unreachable", err)
	}
	desc := re.ErrorDescription
	if desc == "" {
		desc = string(re.Body)
	}
	return ClassifyCallbackError(re.ErrorCode, desc, err)
}

// ClassifyRefreshError wraps a failed refresh. Refresh failures are never retried here.
func ClassifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorDescription != "" {
		return errs.Wrap(errs.CodeRefreshFailed, re.ErrorDescription, err)
	}
	return errs.Wrap(errs.CodeRefreshFailed, "token refresh failed", err)
}

// ClassifyCallbackError maps an OAuth error code and description, as sent to
// the redirect URI or returned by the token endpoint, to a typed error.
func ClassifyCallbackError(code, description string, cause error) error {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "oauth 2.0 policy"),
		strings.Contains(lower, "has not completed the google verification"),
		code == "admin_policy_enforced", code == "org_internal":
		return errs.Wrap(errs.CodeAppNotVerified, description, cause)
	case strings.Contains(lower, "test user"),
		strings.Contains(lower, "testing mode"),
		strings.Contains(lower, "aadsts50020"):
		return errs.Wrap(errs.CodeTestModeUserNotAdded, description, cause)
	case code == "redirect_uri_mismatch", strings.Contains(lower, "aadsts50011"),
		strings.Contains(lower, "redirect_uri"):
		return errs.Wrap(errs.CodeRedirectURIMismatch, description, cause)
	case code == "invalid_client", code == "unauthorized_client",
		strings.Contains(lower, "aadsts7000215"), strings.Contains(lower, "aadsts700016"):
		return errs.Wrap(errs.CodeInvalidClient, description, cause)
	case code == "invalid_grant", strings.Contains(lower, "aadsts70008"),
		strings.Contains(lower, "aadsts54005"):
		return errs.Wrap(errs.CodeCodeExpired, description, cause)
	case code == "access_denied", code == "consent_required", strings.Contains(lower, "aadsts65004"):
		return errs.Wrap(errs.CodeAccessDenied, description, cause)
	}
	if description == "" {
		description = code
	}
	return errs.Wrap(errs.CodeOAuthUnknown, description, cause)
}
