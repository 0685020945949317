package graph

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrIdpUnreachable means a network-level failure (connect, timeout)
	// talking to the provider, as opposed to an error the provider returned.
	ErrIdpUnreachable = errors.New("identity provider unreachable")

	// ErrUnexpectedResponse means the provider answered with a body this
	// client could not interpret.
	ErrUnexpectedResponse = errors.New("unexpected provider response")
)
