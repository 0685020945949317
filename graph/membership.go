package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/aadsso/aadsso/internal/strutils"
)

const (
	// DefaultGraphBaseURL is the Azure AD Graph API endpoint.
	DefaultGraphBaseURL = "https://graph.windows.net"

	// DefaultGraphVersion is the api-version query value sent on directory
	// calls.
	DefaultGraphVersion = "1.6"

	// membershipRetries bounds how many times a failed membership lookup is
	// reattempted. The lookup is a pure read, so a bounded retry is safe;
	// contrast ExchangeCode, which must never retry.
	membershipRetries = 2

	retryBackoff = 250 * time.Millisecond
)

// MembershipParams carries the per-call configuration for a group-membership
// check.
type MembershipParams struct {
	// TokenEndpoint, ClientID and ClientSecret are used to acquire the
	// service-to-service bearer token via the client-credentials grant.
	TokenEndpoint string
	ClientID      string
	ClientSecret  string

	// TenantID is the AAD directory tenant the subject belongs to, taken
	// from the validated id_token's tid claim.
	TenantID string

	// GraphBaseURL defaults to DefaultGraphBaseURL; GraphVersion defaults to
	// DefaultGraphVersion.
	GraphBaseURL string
	GraphVersion string
}

func (p MembershipParams) validate() error {
	switch {
	case p.TokenEndpoint == "":
		return fmt.Errorf("token endpoint is empty: %w", ErrInvalidParameter)
	case p.ClientID == "":
		return fmt.Errorf("client id is empty: %w", ErrInvalidParameter)
	case p.ClientSecret == "":
		return fmt.Errorf("client secret is empty: %w", ErrInvalidParameter)
	case p.TenantID == "":
		return fmt.Errorf("tenant id is empty: %w", ErrInvalidParameter)
	}
	return nil
}

type checkMemberGroupsRequest struct {
	GroupIDs []string `json:"groupIds"`
}

type checkMemberGroupsResponse struct {
	Value    []string `json:"value"`
	NextLink string   `json:"odata.nextLink"`
}

// CheckMemberGroups asks the directory which of candidateGroupIDs the subject
// is a transitive member of, returning that subset. The result preserves no
// particular order and contains no duplicates. If the directory chunks the
// result, all pages are fetched and the union returned.
//
// Transient network failures are retried up to two times with backoff before
// the call fails with ErrIdpUnreachable.
func (c *Client) CheckMemberGroups(ctx context.Context, subjectID string, candidateGroupIDs []string, p MembershipParams) ([]string, error) {
	const op = "graph.CheckMemberGroups"
	if subjectID == "" {
		return nil, fmt.Errorf("%s: subject id is empty: %w", op, ErrInvalidParameter)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(candidateGroupIDs) == 0 {
		return nil, nil
	}

	baseURL := p.GraphBaseURL
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	version := p.GraphVersion
	if version == "" {
		version = DefaultGraphVersion
	}

	token, err := c.bearerToken(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(checkMemberGroupsRequest{GroupIDs: candidateGroupIDs})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to encode request: %w", op, err)
	}

	reqURL := fmt.Sprintf("%s/%s/users/%s/checkMemberGroups?api-version=%s",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(p.TenantID), url.PathEscape(subjectID), url.QueryEscape(version))

	var matched []string
	for reqURL != "" {
		page, err := c.membershipPage(ctx, reqURL, token, body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		matched = append(matched, page.Value...)
		reqURL = nextPageURL(baseURL, p.TenantID, version, page.NextLink)
	}

	return strutils.RemoveDuplicatesStable(matched, false), nil
}

// membershipPage fetches one page of the membership result, retrying
// transport failures a bounded number of times.
func (c *Client) membershipPage(ctx context.Context, reqURL string, token *oauth2.Token, body []byte) (*checkMemberGroupsResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= membershipRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying group membership check", "attempt", attempt)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("membership check canceled: %w", ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("unable to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		token.SetAuthHeader(req)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("directory request failed: %v: %w", err, ErrIdpUnreachable)
			continue
		}

		page, err := decodeMembershipPage(resp)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
	return nil, lastErr
}

func decodeMembershipPage(resp *http.Response) (*checkMemberGroupsResponse, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("unable to read directory response: %v: %w", err, ErrIdpUnreachable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("directory returned status %d: %w", resp.StatusCode, ErrUnexpectedResponse)
	}
	var page checkMemberGroupsResponse
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("undecodable directory response: %w", ErrUnexpectedResponse)
	}
	return &page, nil
}

// bearerToken acquires the service-to-service access token for the directory
// API using the client-credentials grant.
func (c *Client) bearerToken(ctx context.Context, p MembershipParams) (*oauth2.Token, error) {
	baseURL := p.GraphBaseURL
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	conf := &clientcredentials.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     p.TokenEndpoint,
		EndpointParams: url.Values{
			"resource": {baseURL + "/"},
		},
	}
	token, err := conf.Token(context.WithValue(ctx, oauth2.HTTPClient, c.client))
	if err != nil {
		return nil, fmt.Errorf("unable to acquire directory bearer token: %v: %w", err, ErrIdpUnreachable)
	}
	return token, nil
}

// nextPageURL resolves an odata.nextLink value, which AAD returns either as
// an absolute URL or as a path relative to the tenant.
func nextPageURL(baseURL, tenantID, version, nextLink string) string {
	if nextLink == "" {
		return ""
	}
	if strings.HasPrefix(nextLink, "https://") || strings.HasPrefix(nextLink, "http://") {
		return nextLink
	}
	sep := "?"
	if strings.Contains(nextLink, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s/%s/%s%sapi-version=%s",
		strings.TrimSuffix(baseURL, "/"), url.PathEscape(tenantID), nextLink, sep, url.QueryEscape(version))
}
