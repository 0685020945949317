package aadsso

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/aadsso/aadsso/internal/strutils"
)

// TestProvider is a local server emulating the AAD endpoints this package
// talks to: the token endpoint (authorization-code and client-credentials
// grants), the signing-key discovery endpoint, and the directory's
// checkMemberGroups operation. It makes writing tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	consumedAuthCodes   map[string]bool
	allowedRedirectURIs []string
	customClaims        map[string]interface{}
	customAudience      string
	replySubject        string
	replyTenantID       string
	omitIDToken         bool
	omitAccessToken     bool
	expectedAuthNonce   string
	memberGroups        []string
	membershipPageSize  int
	graphFailures       int

	rsaPublicKey  string
	rsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port,
// stopped automatically via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                 t,
		consumedAuthCodes: map[string]bool{},
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		replySubject:  "test-subject-id",
		replyTenantID: "test-tenant-id",
	}
	p.rsaPublicKey, p.rsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.rsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// TestSettings returns Settings wired to the test provider's endpoints with
// the given relying-party credentials.
func (p *TestProvider) TestSettings(t *testing.T, clientID, clientSecret string) Settings {
	t.Helper()
	p.SetClientCreds(clientID, clientSecret)
	s := DefaultSettings()
	s.ClientID = clientID
	s.ClientSecret = ClientSecret(clientSecret)
	s.RedirectURI = "https://example.com/callback"
	s.AuthorizationEndpoint = p.Addr() + "/oauth2/authorize"
	s.TokenEndpoint = p.Addr() + "/oauth2/token"
	s.EndSessionEndpoint = p.Addr() + "/oauth2/logout"
	s.JWKSEndpoint = p.Addr() + "/discovery/keys"
	s.Issuer = p.Addr()
	s.GraphBaseURL = p.Addr()
	s.ProviderCA = p.CACert()
	return s
}

// SetClientCreds is for configuring the relying-party credentials the token
// endpoint requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the one authorization code the token
// endpoint will accept. Each configured code is single-use: presenting it a
// second time fails with invalid_grant, like the real endpoint.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
	delete(p.consumedAuthCodes, code)
}

// SetAllowedRedirectURIs configures the redirect URIs the token endpoint
// accepts. If not configured, "https://example.com/callback" is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to include in issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience overrides the audience embedded in issued id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetReplySubject overrides the sub claim in issued id_tokens.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// OmitIDTokens forces an error state where the token endpoint does not return
// an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitAccessTokens forces an error state where the token endpoint does not
// return an access_token.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// SetExpectedAuthNonce configures the nonce embedded in issued id_tokens,
// emulating the provider echoing back the nonce sent on the authorization
// request. Empty omits the claim.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetMemberGroups configures the groups the directory reports the subject as
// a member of. checkMemberGroups returns the intersection of these and the
// requested candidate ids.
func (p *TestProvider) SetMemberGroups(groupIDs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.memberGroups = groupIDs
}

// SetMembershipPageSize makes checkMemberGroups chunk its result and return
// odata.nextLink continuations, n matches per page. Zero disables chunking.
func (p *TestProvider) SetMembershipPageSize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.membershipPageSize = n
}

// SetGraphFailures makes the next n directory requests fail at the transport
// level (the connection is dropped without a response), to exercise retry
// behavior.
func (p *TestProvider) SetGraphFailures(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graphFailures = n
}

// Addr returns the current base URL for the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// id_tokens.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.rsaPublicKey, p.rsaPrivateKey
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch {
	case req.URL.Path == "/oauth2/token":
		p.serveToken(w, req)

	case req.URL.Path == "/discovery/keys":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case strings.HasSuffix(req.URL.Path, "/checkMemberGroups"):
		p.serveCheckMemberGroups(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch req.FormValue("grant_type") {
	case "client_credentials":
		clientID, clientSecret := req.FormValue("client_id"), req.FormValue("client_secret")
		if basicID, basicSecret, ok := req.BasicAuth(); ok {
			clientID, clientSecret = basicID, basicSecret
		}
		if clientID != p.clientID || clientSecret != p.clientSecret {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		}
		_ = p.writeJSON(w, map[string]interface{}{
			"access_token": "test-graph-bearer-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

	case "authorization_code":
		switch {
		case req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unknown client")
			return
		case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		case p.consumedAuthCodes[p.expectedAuthCode]:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "auth code already redeemed")
			return
		}
		p.consumedAuthCodes[p.expectedAuthCode] = true

		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			Audience:  jwt.Audience{p.clientID},
		}
		if p.customAudience != "" {
			stdClaims.Audience = jwt.Audience{p.customAudience}
		}
		privateClaims := map[string]interface{}{
			"tid": p.replyTenantID,
		}
		if p.expectedAuthNonce != "" {
			privateClaims["nonce"] = p.expectedAuthNonce
		}
		for k, v := range p.customClaims {
			privateClaims[k] = v
		}
		idToken := TestSignJWT(p.t, p.rsaPrivateKey, stdClaims, privateClaims)

		reply := struct {
			AccessToken string `json:"access_token,omitempty"`
			IDToken     string `json:"id_token,omitempty"`
			TokenType   string `json:"token_type"`
			ExpiresIn   string `json:"expires_in"`
		}{
			AccessToken: "test-access-token",
			IDToken:     idToken,
			TokenType:   "Bearer",
			// AAD's v1 endpoint quotes this value.
			ExpiresIn: "3600",
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		if p.omitAccessToken {
			reply.AccessToken = ""
		}
		_ = p.writeJSON(w, &reply)

	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
	}
}

func (p *TestProvider) serveCheckMemberGroups(w http.ResponseWriter, req *http.Request) {
	require := require.New(p.t)

	if p.graphFailures > 0 {
		p.graphFailures--
		hj, ok := w.(http.Hijacker)
		require.True(ok)
		conn, _, err := hj.Hijack()
		require.NoError(err)
		conn.Close()
		return
	}

	if req.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if req.Header.Get("Authorization") != "Bearer test-graph-bearer-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body struct {
		GroupIDs []string `json:"groupIds"`
	}
	require.NoError(json.NewDecoder(req.Body).Decode(&body))

	var matched []string
	for _, id := range body.GroupIDs {
		if strutils.StrListContains(p.memberGroups, id) {
			matched = append(matched, id)
		}
	}

	if p.membershipPageSize <= 0 || len(matched) <= p.membershipPageSize {
		_ = p.writeJSON(w, map[string]interface{}{"value": matched})
		return
	}

	skip := 0
	fmt.Sscanf(req.URL.Query().Get("$skiptoken"), "%d", &skip)
	if skip > len(matched) {
		skip = len(matched)
	}
	end := skip + p.membershipPageSize
	if end > len(matched) {
		end = len(matched)
	}
	reply := map[string]interface{}{"value": matched[skip:end]}
	if end < len(matched) {
		reply["odata.nextLink"] = fmt.Sprintf("users/%s/checkMemberGroups?$skiptoken=%d", p.replySubject, end)
	}
	_ = p.writeJSON(w, reply)
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// discovery endpoint response.
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key: pub,
			},
		},
	}
}
