// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorahq/savora/internal/auth"
	"github.com/savorahq/savora/internal/platform/sec"
)

// newTestProvider wires an HTTPProvider against a test server.
func newTestProvider(serverURL string) *auth.HTTPProvider {
	cache := auth.NewTokenCache(func(ctx context.Context) (string, error) {
		return "antiforgery-test", nil
	})
	transport := auth.NewTransport(serverURL, "api-key-test", cache, discardLogger())
	return auth.NewHTTPProvider(transport)
}

/*
TestHTTPProvider_IssueCredentialDecodesPair verifies the token endpoint
response is decoded into a credential with the wire expiry.
*/
func TestHTTPProvider_IssueCredentialDecodesPair(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/token", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-wire",
			"refresh_token": "refresh-wire",
			"expires_at":    expiresAt,
		})
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	credential, err := provider.IssueCredential(context.Background(), "member@savora.app", "secret-pass")

	require.NoError(t, err)
	assert.Equal(t, "access-wire", credential.AccessSecret)
	assert.Equal(t, "refresh-wire", credential.RefreshSecret)
	assert.True(t, credential.ExpiresAt.Equal(expiresAt))
}

/*
TestHTTPProvider_IssueCredentialExpiryFromToken verifies that a response
omitting expires_at falls back to the access token's own exp claim, so the
refresh threshold still has something to arm against.
*/
func TestHTTPProvider_IssueCredentialExpiryFromToken(t *testing.T) {
	tokens, err := sec.NewTokenService("0123456789abcdef0123456789abcdef", "provider-test")
	require.NoError(t, err)

	accessToken, err := tokens.GenerateAccessToken("ext-1", "member@savora.app", true, 45*time.Minute)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": "refresh-wire",
		})
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	credential, err := provider.IssueCredential(context.Background(), "member@savora.app", "secret-pass")

	require.NoError(t, err)
	assert.False(t, credential.ExpiresAt.IsZero())
	assert.WithinDuration(t, time.Now().Add(45*time.Minute), credential.ExpiresAt, 5*time.Second)
}

/*
TestHTTPProvider_IssueCredentialOpaqueTokenKeepsZeroExpiry verifies that an
opaque (non-JWT) access secret without a wire expiry decodes cleanly; the
zero expiry then reads as already expired and forces an immediate refresh.
*/
func TestHTTPProvider_IssueCredentialOpaqueTokenKeepsZeroExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "opaque-not-a-jwt",
			"refresh_token": "refresh-wire",
		})
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	credential, err := provider.IssueCredential(context.Background(), "member@savora.app", "secret-pass")

	require.NoError(t, err)
	assert.True(t, credential.ExpiresAt.IsZero())
	assert.True(t, credential.IsExpired(time.Now()))
}
