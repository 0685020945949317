package idtoken

import "errors"

// Validation failures are classified by kind so callers can branch and log
// precisely without string matching, and without leaking cryptographic
// material to end users.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrMalformedToken means the token is not a structurally valid compact
	// JWS: three dot-separated base64url segments with a non-empty signature.
	ErrMalformedToken = errors.New("malformed token")

	// ErrSignatureInvalid means the signature did not verify against the
	// resolved key, or the token's algorithm is not in the configured
	// allow-list ("none" is never allowed).
	ErrSignatureInvalid = errors.New("invalid token signature")

	// ErrTokenExpired means the current time is past the token's "exp" claim
	// beyond the allowed clock skew.
	ErrTokenExpired = errors.New("token is expired")

	// ErrTokenNotYetValid means the token's "nbf" (or a future "iat") claim
	// is ahead of the current time beyond the allowed clock skew.
	ErrTokenNotYetValid = errors.New("token is not yet valid")

	// ErrClaimMismatch means a required claim ("iss", "aud") did not match
	// the expected value.
	ErrClaimMismatch = errors.New("claim mismatch")
)
