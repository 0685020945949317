package aadsso

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrAntiforgeryMismatch means the "state" returned by the provider was
	// missing or did not equal the anti-forgery token stored in the session.
	// A missing state is always treated as a mismatch.
	ErrAntiforgeryMismatch = errors.New("antiforgery state mismatch")

	// ErrInvalidIDToken wraps any id_token validation failure. The underlying
	// idtoken error kind remains matchable with errors.Is.
	ErrInvalidIDToken = errors.New("invalid id_token")

	// ErrMissingIdentityClaim means the validated id_token carried neither an
	// upn nor a unique_name claim, so there is nothing to match a local user
	// against.
	ErrMissingIdentityClaim = errors.New("neither upn nor unique_name claim found")

	// ErrUserNotRegistered means the authenticated identity has no local user
	// and auto-provisioning is disabled.
	ErrUserNotRegistered = errors.New("user not registered")

	// ErrNoGroupMatch means the subject is not a member of any mapped group
	// and no default role is configured. Authentication succeeded but
	// authorization did not; callers must treat the login as failed.
	ErrNoGroupMatch = errors.New("user is not a member of any group granting a role")

	// ErrMalformedCallback means the authorization response carried neither a
	// code nor an error and cannot be processed as a callback.
	ErrMalformedCallback = errors.New("malformed authorization callback")
)

func newNilParamErr(op, param string) error {
	return fmt.Errorf("%s: %s is nil: %w", op, param, ErrNilParameter)
}

// ProviderError is an error the identity provider itself returned, either as
// error/error_description query parameters on the authorization callback or
// as an error field in the token endpoint response.
type ProviderError struct {
	// Code is the provider's error code, e.g. "access_denied" or
	// "invalid_grant".
	Code string

	// Description is the provider's human-readable error description, if any.
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("provider returned error %q", e.Code)
	}
	return fmt.Sprintf("provider returned error %q: %s", e.Code, e.Description)
}
