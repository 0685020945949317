package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDirectory is a stub of the directory's token and checkMemberGroups
// endpoints.
type testDirectory struct {
	t *testing.T

	memberGroups []string
	pageSize     int

	// failures makes the next n checkMemberGroups requests drop the
	// connection without a response.
	failures int32

	tokenCalls      int32
	membershipCalls int32
}

func (d *testDirectory) start(t *testing.T) (*httptest.Server, MembershipParams) {
	t.Helper()
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)
	return srv, MembershipParams{
		TokenEndpoint: srv.URL + "/oauth2/token",
		ClientID:      "test-client-id",
		ClientSecret:  "test-client-secret",
		TenantID:      "test-tenant-id",
		GraphBaseURL:  srv.URL,
	}
}

func (d *testDirectory) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == "/oauth2/token":
		atomic.AddInt32(&d.tokenCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-bearer",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

	case strings.HasSuffix(req.URL.Path, "/checkMemberGroups"):
		atomic.AddInt32(&d.membershipCalls, 1)
		if atomic.AddInt32(&d.failures, -1) >= 0 {
			hj, ok := w.(http.Hijacker)
			require.True(d.t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(d.t, err)
			conn.Close()
			return
		}
		atomic.AddInt32(&d.failures, 1) // undo the decrement below zero

		assert.Equal(d.t, "Bearer test-bearer", req.Header.Get("Authorization"))
		assert.Equal(d.t, "1.6", req.URL.Query().Get("api-version"))
		assert.True(d.t, strings.HasPrefix(req.URL.Path, "/test-tenant-id/users/test-subject-id/"))

		var body struct {
			GroupIDs []string `json:"groupIds"`
		}
		require.NoError(d.t, json.NewDecoder(req.Body).Decode(&body))

		var matched []string
		for _, id := range body.GroupIDs {
			for _, member := range d.memberGroups {
				if id == member {
					matched = append(matched, id)
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if d.pageSize <= 0 || len(matched) <= d.pageSize {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"value": matched})
			return
		}

		skip := 0
		fmt.Sscanf(req.URL.Query().Get("$skiptoken"), "%d", &skip)
		end := skip + d.pageSize
		if end > len(matched) {
			end = len(matched)
		}
		reply := map[string]interface{}{"value": matched[skip:end]}
		if end < len(matched) {
			reply["odata.nextLink"] = fmt.Sprintf("users/test-subject-id/checkMemberGroups?$skiptoken=%d", end)
		}
		_ = json.NewEncoder(w).Encode(reply)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestClient_CheckMemberGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns-membership-subset", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t, memberGroups: []string{"g1", "g3"}}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		got, err := c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1", "g2", "g3"}, params)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1", "g3"}, got)
		assert.Equal(t, int32(1), atomic.LoadInt32(&d.tokenCalls))
	})

	t.Run("no-candidates-no-call", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		got, err := c.CheckMemberGroups(ctx, "test-subject-id", nil, params)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, atomic.LoadInt32(&d.tokenCalls))
		assert.Zero(t, atomic.LoadInt32(&d.membershipCalls))
	})

	t.Run("paged-results-are-unioned", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t, memberGroups: []string{"g1", "g2", "g3"}, pageSize: 1}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		got, err := c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1", "g2", "g3"}, params)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"g1", "g2", "g3"}, got)
		assert.Equal(t, int32(3), atomic.LoadInt32(&d.membershipCalls))
	})

	t.Run("duplicate-group-ids-deduped", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t, memberGroups: []string{"g1"}}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		got, err := c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1", "g1"}, params)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1"}, got)
	})

	t.Run("transient-failure-retried", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t, memberGroups: []string{"g1"}, failures: 1}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		got, err := c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1"}, params)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1"}, got)
		assert.Equal(t, int32(2), atomic.LoadInt32(&d.membershipCalls))
	})

	t.Run("retry-is-bounded", func(t *testing.T) {
		t.Parallel()
		d := &testDirectory{t: t, memberGroups: []string{"g1"}, failures: 100}
		_, params := d.start(t)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1"}, params)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdpUnreachable)
		assert.Equal(t, int32(1+membershipRetries), atomic.LoadInt32(&d.membershipCalls))
	})

	t.Run("error-status-not-retried", func(t *testing.T) {
		t.Parallel()
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/oauth2/token" {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "b", "token_type": "Bearer"})
				return
			}
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusForbidden)
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1"}, MembershipParams{
			TokenEndpoint: srv.URL + "/oauth2/token",
			ClientID:      "test-client-id",
			ClientSecret:  "test-client-secret",
			TenantID:      "test-tenant-id",
			GraphBaseURL:  srv.URL,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("bearer-token-failure", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(srv.Close)

		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1"}, MembershipParams{
			TokenEndpoint: srv.URL + "/oauth2/token",
			ClientID:      "test-client-id",
			ClientSecret:  "test-client-secret",
			TenantID:      "test-tenant-id",
			GraphBaseURL:  srv.URL,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIdpUnreachable)
	})

	t.Run("missing-params", func(t *testing.T) {
		t.Parallel()
		c, err := NewClient()
		require.NoError(t, err)

		_, err = c.CheckMemberGroups(ctx, "", []string{"g1"}, MembershipParams{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)

		_, err = c.CheckMemberGroups(ctx, "test-subject-id", []string{"g1"}, MembershipParams{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}
