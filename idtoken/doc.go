// Package idtoken validates OIDC id_tokens: structural integrity of the
// compact JWS, signature verification against a KeySet (remote JWKS or static
// PEM keys), and claim checks (issuer, audience, and the time-based claims
// with a bounded clock-skew tolerance).
//
// Validation failures are classified by error kind so callers can branch with
// errors.Is. The package never evaluates authorization; it only establishes
// that a token is authentic and yields its typed Claims.
package idtoken
