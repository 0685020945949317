package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExchangeParams(endpoint string) ExchangeParams {
	return ExchangeParams{
		TokenEndpoint: endpoint,
		ClientID:      "test-client-id",
		ClientSecret:  "test-client-secret",
		RedirectURI:   "https://example.com/callback",
		Resource:      "https://graph.windows.net/",
	}
}

func TestClient_ExchangeCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			require.NoError(t, req.ParseForm())
			assert.Equal(t, "authorization_code", req.FormValue("grant_type"))
			assert.Equal(t, "test-code", req.FormValue("code"))
			assert.Equal(t, "test-client-id", req.FormValue("client_id"))
			assert.Equal(t, "test-client-secret", req.FormValue("client_secret"))
			assert.Equal(t, "https://example.com/callback", req.FormValue("redirect_uri"))
			assert.Equal(t, "https://graph.windows.net/", req.FormValue("resource"))

			w.Header().Set("Content-Type", "application/json")
			// AAD's v1 endpoint returns expires_in as a quoted number.
			_, _ = w.Write([]byte(`{
				"access_token": "test-access-token",
				"id_token": "test-id-token",
				"token_type": "Bearer",
				"expires_in": "3599"
			}`))
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		tr, err := c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, "test-access-token", tr.AccessToken)
		assert.Equal(t, "test-id-token", tr.IDToken)
		assert.Empty(t, tr.Error)

		n, err := tr.ExpiresIn.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(3599), n)
	})

	t.Run("unquoted-expires-in", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`{"access_token": "a", "id_token": "i", "expires_in": 3600}`))
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		tr, err := c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.NoError(t, err)
		n, err := tr.ExpiresIn.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(3600), n)
	})

	t.Run("provider-error-is-not-a-transport-error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "code already redeemed",
			})
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		tr, err := c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.NoError(t, err)
		assert.Equal(t, "invalid_grant", tr.Error)
		assert.Equal(t, "code already redeemed", tr.ErrorDescription)
	})

	t.Run("undecodable-body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte("<html>Bad Gateway</html>"))
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
	})

	t.Run("empty-response", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
	})

	t.Run("unreachable-endpoint", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
		srv.Close()

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdpUnreachable)
	})

	t.Run("transport-failure-is-never-retried", func(t *testing.T) {
		t.Parallel()
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			atomic.AddInt32(&calls, 1)
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.ExchangeCode(ctx, "test-code", testExchangeParams(srv.URL))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdpUnreachable)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("missing-params", func(t *testing.T) {
		t.Parallel()
		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.ExchangeCode(ctx, "", testExchangeParams("https://example.com/token"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)

		p := testExchangeParams("")
		_, err = c.ExchangeCode(ctx, "test-code", p)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
