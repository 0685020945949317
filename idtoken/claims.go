package idtoken

import (
	"fmt"
	"time"
)

// Claims is the validated payload of an id_token. Optional claims that are
// absent decode to their zero value; PreferredLogin reports absence
// explicitly for the claims identity reconciliation depends on.
type Claims struct {
	// Subject is the "sub" claim, the provider's stable identifier for the
	// authenticated principal.
	Subject string

	// TenantID is the "tid" claim, the AAD directory tenant the principal
	// belongs to.
	TenantID string

	Issuer   string
	Audience []string

	Expiry    time.Time
	NotBefore time.Time
	IssuedAt  time.Time

	// UPN is the "upn" claim, the principal's user principal name. Optional.
	UPN string

	// UniqueName is the "unique_name" claim. AAD includes it when "upn" is
	// unavailable (e.g. guest accounts). Optional.
	UniqueName string

	GivenName  string
	FamilyName string

	// Nonce is the "nonce" claim echoed back from the authorization request,
	// if one was sent.
	Nonce string
}

// PreferredLogin selects the claim used to match the principal to a local
// user: "upn" when present, otherwise "unique_name". The second return value
// is false when both are absent.
func (c *Claims) PreferredLogin() (string, bool) {
	switch {
	case c.UPN != "":
		return c.UPN, true
	case c.UniqueName != "":
		return c.UniqueName, true
	default:
		return "", false
	}
}

func claimsFromMap(all map[string]interface{}) (*Claims, error) {
	c := &Claims{
		Subject:    stringClaim(all, "sub"),
		TenantID:   stringClaim(all, "tid"),
		Issuer:     stringClaim(all, "iss"),
		UPN:        stringClaim(all, "upn"),
		UniqueName: stringClaim(all, "unique_name"),
		GivenName:  stringClaim(all, "given_name"),
		FamilyName: stringClaim(all, "family_name"),
		Nonce:      stringClaim(all, "nonce"),
	}

	var err error
	if c.Audience, err = audienceClaim(all); err != nil {
		return nil, err
	}
	if c.Expiry, err = timeClaim(all, "exp"); err != nil {
		return nil, err
	}
	if c.NotBefore, err = timeClaim(all, "nbf"); err != nil {
		return nil, err
	}
	if c.IssuedAt, err = timeClaim(all, "iat"); err != nil {
		return nil, err
	}
	return c, nil
}

func stringClaim(all map[string]interface{}, name string) string {
	if v, ok := all[name].(string); ok {
		return v
	}
	return ""
}

// timeClaim decodes a NumericDate claim. Absence is not an error; the zero
// time represents it.
func timeClaim(all map[string]interface{}, name string) (time.Time, error) {
	v, ok := all[name]
	if !ok {
		return time.Time{}, nil
	}
	n, ok := v.(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("%s claim is not a numeric date: %w", name, ErrMalformedToken)
	}
	return time.Unix(int64(n), 0), nil
}

// audienceClaim decodes "aud", which may be a single string or an array of
// strings.
func audienceClaim(all map[string]interface{}) ([]string, error) {
	v, ok := all["aud"]
	if !ok {
		return nil, nil
	}
	switch aud := v.(type) {
	case string:
		return []string{aud}, nil
	case []interface{}:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("aud claim contains a non-string element: %w", ErrMalformedToken)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("aud claim is not a string or string array: %w", ErrMalformedToken)
	}
}
