package idtoken

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/aadsso/aadsso/internal/strutils"
)

// DefaultClockSkew is the tolerance applied to time-based claim checks (exp,
// nbf, iat) to allow for clock drift between this host and the provider.
const DefaultClockSkew = 1 * time.Minute

// MaxClockSkew bounds the configurable tolerance. Anything larger defeats the
// point of expiry checking.
const MaxClockSkew = 5 * time.Minute

// Expected carries the values an id_token's claims are validated against.
type Expected struct {
	// Issuer is the value the token's "iss" claim must equal exactly.
	Issuer string

	// Audience is the value (typically the relying party's client id) that
	// the token's "aud" claim must contain.
	Audience string

	// Nonce is the value sent as the nonce parameter on the authorization
	// request. When set, the token's "nonce" claim must equal it exactly; a
	// token without a nonce claim fails the check. Empty skips the check,
	// for tokens obtained outside a flow that sent one.
	Nonce string

	// SigningAlgs is the allow-list of signing algorithms. The token's
	// header algorithm must be in this list; "none" and symmetric algorithms
	// are always rejected. Defaults to RS256, which is what AAD issues.
	SigningAlgs []Alg

	// ClockSkew is the tolerance for time-based claim checks. A zero value
	// uses DefaultClockSkew. Must not exceed MaxClockSkew.
	ClockSkew time.Duration

	// Now is the time source for time-based claim checks. Defaults to
	// time.Now. Typically only set by tests.
	Now func() time.Time
}

// Validator validates a compact-serialized JWT id_token: structure,
// signature (via its KeySet) and claims.
type Validator struct {
	keySet KeySet
}

// NewValidator returns a Validator that verifies signatures with keys
// resolved through the given KeySet.
func NewValidator(keySet KeySet) (*Validator, error) {
	const op = "idtoken.NewValidator"
	if keySet == nil {
		return nil, fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	return &Validator{keySet: keySet}, nil
}

// Validate verifies the token and returns its decoded claims. The checks are
// ordered fail-fast and each must pass:
//
//  1. structural integrity of the compact JWS
//  2. header algorithm is in the allow-list
//  3. signature verifies against a key resolved by the KeySet
//  4. iss equals Expected.Issuer, aud contains Expected.Audience, nonce
//     equals Expected.Nonce, and the current time is within [nbf, exp] (iat
//     not in the future) allowing for Expected.ClockSkew
//
// Failures are classified by the package's error kinds (ErrMalformedToken,
// ErrSignatureInvalid, ErrTokenExpired, ErrTokenNotYetValid,
// ErrClaimMismatch) and matchable with errors.Is.
func (v *Validator) Validate(ctx context.Context, token string, expected Expected) (*Claims, error) {
	const op = "Validator.Validate"
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	skew := expected.ClockSkew
	switch {
	case skew == 0:
		skew = DefaultClockSkew
	case skew < 0 || skew > MaxClockSkew:
		return nil, fmt.Errorf("%s: clock skew %s is outside (0, %s]: %w", op, skew, MaxClockSkew, ErrInvalidParameter)
	}
	now := time.Now
	if expected.Now != nil {
		now = expected.Now
	}
	algs := expected.SigningAlgs
	if len(algs) == 0 {
		algs = []Alg{RS256}
	}
	if err := SupportedSigningAlgorithm(algs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	parsed, err := parseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The header's alg is attacker-controlled until the signature is
	// verified, which is exactly why it must match the allow-list before any
	// key is applied.
	var algAllowed bool
	for _, h := range parsed.Headers {
		if strutils.StrListContains(algStrings(algs), h.Algorithm) {
			algAllowed = true
			break
		}
	}
	if !algAllowed {
		return nil, fmt.Errorf("%s: token algorithm is not in the allow-list [%s]: %w",
			op, algListString(algs), ErrSignatureInvalid)
	}

	allClaims, err := v.keySet.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := claimsFromMap(allClaims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if expected.Issuer != "" && claims.Issuer != expected.Issuer {
		return nil, fmt.Errorf("%s: issuer %q does not match expected issuer: %w", op, claims.Issuer, ErrClaimMismatch)
	}
	if expected.Audience != "" && !strutils.StrListContains(claims.Audience, expected.Audience) {
		return nil, fmt.Errorf("%s: audience claim does not contain the expected audience: %w", op, ErrClaimMismatch)
	}
	if expected.Nonce != "" && claims.Nonce != expected.Nonce {
		return nil, fmt.Errorf("%s: nonce claim does not match the nonce sent on the authorization request: %w", op, ErrClaimMismatch)
	}

	n := now()
	if claims.Expiry.IsZero() {
		return nil, fmt.Errorf("%s: exp claim is missing: %w", op, ErrClaimMismatch)
	}
	if n.After(claims.Expiry.Add(skew)) {
		return nil, fmt.Errorf("%s: expired at %s: %w", op, claims.Expiry.Format(time.RFC3339), ErrTokenExpired)
	}
	if !claims.NotBefore.IsZero() && n.Before(claims.NotBefore.Add(-skew)) {
		return nil, fmt.Errorf("%s: not valid before %s: %w", op, claims.NotBefore.Format(time.RFC3339), ErrTokenNotYetValid)
	}
	if !claims.IssuedAt.IsZero() && n.Add(skew).Before(claims.IssuedAt) {
		return nil, fmt.Errorf("%s: issued in the future at %s: %w", op, claims.IssuedAt.Format(time.RFC3339), ErrTokenNotYetValid)
	}

	return claims, nil
}

// parseSigned checks the structural integrity of a compact JWS and parses it.
// All structural problems are classified as ErrMalformedToken.
func parseSigned(token string) (*jwt.JSONWebToken, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("expected 3 segments, found %d: %w", len(segments), ErrMalformedToken)
	}
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("segment %d is empty: %w", i+1, ErrMalformedToken)
		}
		if _, err := base64.RawURLEncoding.DecodeString(seg); err != nil {
			return nil, fmt.Errorf("segment %d is not base64url: %w", i+1, ErrMalformedToken)
		}
	}
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformedToken)
	}
	return parsed, nil
}

func algStrings(algs []Alg) []string {
	s := make([]string, 0, len(algs))
	for _, a := range algs {
		s = append(s, string(a))
	}
	return s
}
