package aadsso

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"

	"github.com/aadsso/aadsso/graph"
	"github.com/aadsso/aadsso/idtoken"
	"github.com/aadsso/aadsso/internal/strutils"
)

// ClientSecret is the relying party's secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (s ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (s ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// MatchField selects which local-user field the identity claim is matched
// against.
type MatchField string

const (
	MatchLogin MatchField = "login"
	MatchEmail MatchField = "email"
)

// RoleMapping associates one AAD group with one local role. Mappings are
// ordered: roles accumulate in mapping order during role assignment.
type RoleMapping struct {
	GroupID string `json:"group"`
	Role    string `json:"role"`
}

// Settings is the immutable configuration for one authentication flow. It is
// loaded once per request cycle and never mutated by this package.
type Settings struct {
	// ClientId is the relying party id
	ClientID string `json:"client_id"`

	// ClientSecret is the relying party secret
	ClientSecret ClientSecret `json:"client_secret"`

	// RedirectURI is the URI the provider redirects back to after the user
	// authenticates. It must be registered with the provider.
	RedirectURI string `json:"redirect_uri"`

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`

	// JWKSEndpoint is where the provider publishes its signing keys.
	JWKSEndpoint string `json:"jwks_endpoint"`

	// Issuer is the exact value the id_token's iss claim must carry.
	// Required: AAD's common endpoint issues per-tenant issuers, so every
	// deployment must pin the issuer of the tenant it trusts.
	Issuer string `json:"issuer"`

	// Scopes are requested in addition to "openid".
	Scopes []string `json:"scopes"`

	// SupportedSigningAlgs is the id_token signature algorithm allow-list.
	// Defaults to RS256.
	SupportedSigningAlgs []idtoken.Alg `json:"supported_signing_algs"`

	// OrgDomainHint is the organization's domain, sent as domain_hint on the
	// authorization request and used as the suffix for alias matching.
	OrgDomainHint string `json:"org_domain_hint"`

	// FieldToMatch selects the local-user field (login or email) the upn /
	// unique_name claim is matched against.
	FieldToMatch MatchField `json:"field_to_match_to_upn"`

	// MatchOnUPNAlias enables a weaker secondary lookup: when no user
	// matches the full claim value, everything from "@"+OrgDomainHint
	// onward is stripped and the bare alias is looked up. If two external
	// domains share an alias namespace this can match the wrong user; leave
	// it off unless the deployment controls every domain involved.
	MatchOnUPNAlias bool `json:"match_on_upn_alias"`

	// AutoProvision enables creating a local user on first login.
	AutoProvision bool `json:"enable_auto_provisioning"`

	// AutoForwardLogin tells the host to skip its native login form and
	// forward straight to the provider.
	AutoForwardLogin bool `json:"enable_auto_forward"`

	// EnableGroupToRole turns on deriving local roles from AAD group
	// membership after authentication.
	EnableGroupToRole bool `json:"enable_group_to_role"`

	// GroupRoleMap is the ordered group-to-role mapping used when
	// EnableGroupToRole is set.
	GroupRoleMap []RoleMapping `json:"group_role_map"`

	// DefaultRole is assigned when the user is in none of the mapped groups.
	// Empty means no fallback: a user with no group match fails authorization.
	DefaultRole string `json:"default_role"`

	// LogoutRedirectURI is sent as post_logout_redirect_uri on the
	// end-session URL.
	LogoutRedirectURI string `json:"logout_redirect_uri"`

	GraphBaseURL string `json:"graph_base_url"`
	GraphVersion string `json:"graph_version"`

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string `json:"-"`
}

// DefaultSettings returns Settings pointed at the AAD common endpoints, with
// everything deployment-specific left empty.
func DefaultSettings() Settings {
	return Settings{
		AuthorizationEndpoint: "https://login.microsoftonline.com/common/oauth2/authorize",
		TokenEndpoint:         "https://login.microsoftonline.com/common/oauth2/token",
		EndSessionEndpoint:    "https://login.microsoftonline.com/common/oauth2/logout",
		JWKSEndpoint:          "https://login.microsoftonline.com/common/discovery/keys",
		SupportedSigningAlgs:  []idtoken.Alg{idtoken.RS256},
		FieldToMatch:          MatchLogin,
		GraphBaseURL:          graph.DefaultGraphBaseURL,
		GraphVersion:          graph.DefaultGraphVersion,
	}
}

// SettingsFromJSON overlays the raw JSON document on DefaultSettings.
func SettingsFromJSON(raw []byte) (*Settings, error) {
	const op = "aadsso.SettingsFromJSON"
	s := DefaultSettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: unable to decode settings: %w", op, err)
	}
	return &s, nil
}

// Configured reports whether the minimum deployment-specific settings are
// present. Hosts use this to decide whether to offer AAD sign-in at all.
func (s *Settings) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != "" && s.RedirectURI != ""
}

// Validate checks the settings, accumulating every violation rather than
// stopping at the first.
func (s *Settings) Validate() error {
	const op = "Settings.Validate"
	if s == nil {
		return fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}

	var result *multierror.Error
	if s.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter))
	}
	if s.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client secret is empty: %w", op, ErrInvalidParameter))
	}
	if s.RedirectURI == "" {
		result = multierror.Append(result, fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter))
	}
	if s.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter))
	}
	for name, endpoint := range map[string]string{
		"authorization endpoint": s.AuthorizationEndpoint,
		"token endpoint":         s.TokenEndpoint,
		"jwks endpoint":          s.JWKSEndpoint,
	} {
		if endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s is empty: %w", op, name, ErrInvalidParameter))
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %s %q is invalid: %w", op, name, endpoint, err))
			continue
		}
		if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
			result = multierror.Append(result, fmt.Errorf("%s: %s %q scheme is not http or https: %w", op, name, endpoint, ErrInvalidParameter))
		}
	}
	switch s.FieldToMatch {
	case MatchLogin, MatchEmail:
	default:
		result = multierror.Append(result, fmt.Errorf("%s: field to match %q is not %q or %q: %w",
			op, s.FieldToMatch, MatchLogin, MatchEmail, ErrInvalidParameter))
	}
	if s.MatchOnUPNAlias && s.OrgDomainHint == "" {
		result = multierror.Append(result, fmt.Errorf("%s: alias matching requires an org domain hint: %w", op, ErrInvalidParameter))
	}
	if s.EnableGroupToRole && len(s.GroupRoleMap) == 0 && s.DefaultRole == "" {
		result = multierror.Append(result, fmt.Errorf("%s: group-to-role is enabled but no mapping or default role is configured: %w", op, ErrInvalidParameter))
	}
	if len(s.SupportedSigningAlgs) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: supported signing algorithms are empty: %w", op, ErrInvalidParameter))
	} else if err := idtoken.SupportedSigningAlgorithm(s.SupportedSigningAlgs...); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: %w", op, err))
	}
	return result.ErrorOrNil()
}

// candidateGroupIDs returns the mapped group ids, in mapping order.
func (s *Settings) candidateGroupIDs() []string {
	ids := make([]string, 0, len(s.GroupRoleMap))
	for _, m := range s.GroupRoleMap {
		ids = append(ids, m.GroupID)
	}
	return ids
}
