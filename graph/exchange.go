package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ExchangeParams carries the per-call configuration for an authorization-code
// exchange.
type ExchangeParams struct {
	// TokenEndpoint is the provider's OAuth 2.0 token endpoint URL.
	TokenEndpoint string

	// ClientID and ClientSecret identify the relying party.
	ClientID     string
	ClientSecret string

	// RedirectURI must equal the redirect_uri the authorization request was
	// issued with.
	RedirectURI string

	// Resource is the optional AAD resource identifier to request an access
	// token for (the Graph API, for directory calls).
	Resource string
}

func (p ExchangeParams) validate() error {
	switch {
	case p.TokenEndpoint == "":
		return fmt.Errorf("token endpoint is empty: %w", ErrInvalidParameter)
	case p.ClientID == "":
		return fmt.Errorf("client id is empty: %w", ErrInvalidParameter)
	case p.ClientSecret == "":
		return fmt.Errorf("client secret is empty: %w", ErrInvalidParameter)
	case p.RedirectURI == "":
		return fmt.Errorf("redirect uri is empty: %w", ErrInvalidParameter)
	}
	return nil
}

// TokenResponse is the token endpoint's answer to a code exchange. Exactly
// one of (AccessToken and IDToken) or Error is populated: the provider either
// issued tokens or returned an error, never both.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`

	// ExpiresIn is a json.Number because AAD's v1 endpoints quote it while
	// standard OAuth 2.0 responses do not.
	ExpiresIn json.Number `json:"expires_in"`

	// Error and ErrorDescription are set when the provider rejected the
	// exchange (e.g. "invalid_grant" for a consumed or expired code).
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode posts the authorization code to the token endpoint and returns
// the provider's response. A provider-returned error is reported inside
// TokenResponse, not as a Go error; only transport-level failures and
// undecodable responses fail the call.
//
// The call is never retried: authorization codes are single use, and a retry
// after an ambiguous network failure could only produce a false
// "invalid_grant" or duplicate side effects. Callers must surface the failure
// and require a fresh login attempt.
func (c *Client) ExchangeCode(ctx context.Context, code string, p ExchangeParams) (*TokenResponse, error) {
	const op = "graph.ExchangeCode"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {p.ClientID},
		"client_secret": {p.ClientSecret},
		"redirect_uri":  {p.RedirectURI},
	}
	if p.Resource != "" {
		form.Set("resource", p.Resource)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token endpoint request failed: %v: %w", op, err, ErrIdpUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token endpoint response: %v: %w", op, err, ErrIdpUnreachable)
	}

	// AAD returns provider errors with a non-2xx status and the same JSON
	// shape, so decode before looking at the status code.
	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: token endpoint returned status %d with an undecodable body: %w",
			op, resp.StatusCode, ErrUnexpectedResponse)
	}
	if tr.AccessToken == "" && tr.IDToken == "" && tr.Error == "" {
		return nil, fmt.Errorf("%s: token endpoint returned neither tokens nor an error: %w", op, ErrUnexpectedResponse)
	}

	c.logger.Debug("exchanged authorization code", "status", resp.StatusCode, "provider_error", tr.Error)
	return &tr, nil
}
