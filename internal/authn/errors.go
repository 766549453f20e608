package authn

import "errors"

var (
	// ErrInvalidCredentials is the uniform verification failure returned for
	// unknown identifiers, missing credentials, and mismatched secrets alike,
	// so callers cannot enumerate accounts from the error shape.
	ErrInvalidCredentials = errors.New("authn: invalid credentials")

	// ErrMissingCredential indicates the request carried neither a password
	// nor an SSO pair (or carried both).
	ErrMissingCredential = errors.New("authn: exactly one credential method is required")

	// ErrInvalidToken indicates a token failed signature, claim, or
	// session-state validation.
	ErrInvalidToken = errors.New("authn: invalid token")

	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("authn: not found")

	// ErrStorage wraps persistence failures. These are the only errors that
	// signal the subsystem itself is unhealthy rather than a bad credential.
	ErrStorage = errors.New("authn: storage failure")
)
