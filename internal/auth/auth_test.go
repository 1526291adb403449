package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "fitstate"}

func TestSignParseRoundTrip(t *testing.T) {
	token, err := Sign(testConfig, Claims{
		Subject:  "user-1",
		DeviceID: "phone",
		Scopes:   NewScopes(ScopeStateRead, ScopeStateWrite),
	}, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "user-1", claims.Owner)
	require.Equal(t, "phone", claims.DeviceID)
	require.True(t, claims.HasScope(ScopeStateRead))
	require.True(t, claims.HasScope(ScopeStateWrite))
	require.False(t, claims.HasScope(ScopeSyncAdmin))
}

func TestParseRejects(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	wrongIssuer, err := Sign(Config{Secret: testConfig.Secret, Issuer: "other"}, Claims{Subject: "u"}, time.Hour)
	require.NoError(t, err)
	_, err = Parse(wrongIssuer, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Sign(testConfig, Claims{Subject: "u"}, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u", "iss": "fitstate"}).
		SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	_, err = Parse(noExp, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNormalizeScopes(t *testing.T) {
	require.Len(t, normalizeScopes([]interface{}{"a", "", 3, "b"}), 2)
	require.Len(t, normalizeScopes("a  b c"), 3)
	require.Empty(t, normalizeScopes(nil))
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig).Wrap(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Nil(t, seen)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/state", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"unauthorized"`)

	token, err := Sign(testConfig, Claims{Subject: "user-1", Scopes: NewScopes(ScopeStateRead)}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, "user-1", seen.Subject)
}

func TestMiddlewarePassesPreflightAndPublicPaths(t *testing.T) {
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig, WithPublicPaths("/v1/status")).Wrap(next)

	preflight := httptest.NewRequest(http.MethodOptions, "/v1/mutations", nil)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, preflight)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, 2, called)

	// A bare OPTIONS request is not a preflight.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/mutations", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, `Bearer realm="fitstate"`, rr.Header().Get("WWW-Authenticate"))
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		err    error
	}{
		{header: "", err: ErrMissingToken},
		{header: "Bearer abc", token: "abc"},
		{header: "bearer   abc ", token: "abc"},
		{header: "Bearer ", err: ErrMissingToken},
		{header: "Basic abc", err: ErrInvalidToken},
		{header: "Bearerabc", err: ErrInvalidToken},
	}
	for _, tc := range cases {
		token, err := bearerToken(tc.header)
		if tc.err != nil {
			require.ErrorIs(t, err, tc.err, tc.header)
			continue
		}
		require.NoError(t, err, tc.header)
		require.Equal(t, tc.token, token, tc.header)
	}
}

func TestClaimsFromContext(t *testing.T) {
	ctx := context.Background()
	_, ok := OwnerFromContext(ctx)
	require.False(t, ok)
	_, ok = FromContext(WithClaims(ctx, nil))
	require.False(t, ok)

	ctx = WithClaims(ctx, &Claims{Subject: "user-1", Owner: "team-1", DeviceID: "phone"})
	owner, ok := OwnerFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "team-1", owner)

	claims, _ := FromContext(ctx)
	require.True(t, claims.AllowsDevice("phone"))
	require.False(t, claims.AllowsDevice("tablet"))
	require.True(t, (&Claims{Subject: "u"}).AllowsDevice("tablet"))
	require.False(t, (*Claims)(nil).AllowsDevice("phone"))
}

func TestSignRequiresSecret(t *testing.T) {
	_, err := Sign(Config{}, Claims{Subject: "u"}, time.Hour)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidToken))
}
