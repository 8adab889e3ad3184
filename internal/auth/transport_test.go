// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savorahq/savora/internal/auth"
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
)

// newTestTransport wires a transport against a test server with a
// pre-seeded anti-forgery fetcher.
func newTestTransport(serverURL string) (*auth.Transport, *auth.TokenCache) {
	cache := auth.NewTokenCache(func(ctx context.Context) (string, error) {
		return "antiforgery-test", nil
	})
	transport := auth.NewTransport(serverURL, "api-key-test", cache, discardLogger())
	return transport, cache
}

/*
TestTransport_ClassifiesOutcomes verifies the HTTP status to error taxonomy
mapping for every classified outcome.
*/
func TestTransport_ClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		expectedCode string
	}{
		{"unauthorized", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"forbidden", http.StatusForbidden, "FORBIDDEN"},
		{"not found", http.StatusNotFound, "NOT_FOUND"},
		{"conflict", http.StatusConflict, "CONFLICT"},
		{"payload too large", http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"rate limited", http.StatusTooManyRequests, "RATE_LIMITED"},
		{"server error", http.StatusInternalServerError, "TRANSIENT_NETWORK"},
		{"bad gateway", http.StatusBadGateway, "TRANSIENT_NETWORK"},
		{"teapot", http.StatusTeapot, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			transport, _ := newTestTransport(server.URL)

			_, err := transport.Do(context.Background(), http.MethodGet, "/v1/probe", nil)

			require.Error(t, err)
			assert.Equal(t, tc.expectedCode, apperr.CodeOf(err))
		})
	}
}

/*
TestTransport_SuccessReturnsBody verifies the happy path passes the response
body and headers through untouched.
*/
func TestTransport_SuccessReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key-test", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	response, err := transport.Do(context.Background(), http.MethodGet, "/v1/health", nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.Status)
	assert.JSONEq(t, `{"ok":true}`, string(response.Body))
}

/*
TestTransport_RefreshAndRetryOnce verifies the bounded 401 recovery: the
installed refresh hook runs exactly once and the original call is repeated.
*/
func TestTransport_RefreshAndRetryOnce(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	var refreshCalls int32
	transport.SetRefreshFunc(func(ctx context.Context) error {
		atomic.AddInt32(&refreshCalls, 1)
		return nil
	})

	response, err := transport.Do(context.Background(), http.MethodGet, "/v1/profile", nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

/*
TestTransport_PersistentUnauthorizedSurfaces verifies that when the retry
after a refresh still comes back 401, the classification surfaces and no
second refresh cycle starts.
*/
func TestTransport_PersistentUnauthorizedSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	var refreshCalls int32
	transport.SetRefreshFunc(func(ctx context.Context) error {
		atomic.AddInt32(&refreshCalls, 1)
		return nil
	})

	_, err := transport.Do(context.Background(), http.MethodGet, "/v1/profile", nil)

	require.Error(t, err)
	assert.Equal(t, "UNAUTHENTICATED", apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
}

/*
TestTransport_RefreshThroughOwnTransportTerminates verifies that a refresh
hook travelling back through the same transport cannot recurse: the 401 the
nested call observes surfaces directly instead of starting another cycle.
*/
func TestTransport_RefreshThroughOwnTransportTerminates(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	// The hook refreshes by calling the provider over the same transport,
	// exactly how the session manager's flow is wired in production.
	var refreshCalls int32
	transport.SetRefreshFunc(func(ctx context.Context) error {
		atomic.AddInt32(&refreshCalls, 1)
		_, err := transport.Do(ctx, http.MethodPost, "/v1/token/refresh", nil)
		return err
	})

	_, err := transport.Do(context.Background(), http.MethodGet, "/v1/profile", nil)

	require.Error(t, err)
	assert.Equal(t, "UNAUTHENTICATED", apperr.CodeOf(err))
	// One cycle total: the original call plus the nested refresh attempt.
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

/*
TestTransport_DeduplicatesConcurrentCalls verifies that identical concurrent
requests share one upstream round trip.
*/
func TestTransport_DeduplicatesConcurrentCalls(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := transport.Do(context.Background(), http.MethodGet, "/v1/menu", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

/*
TestTransport_MutatingCarriesAntiForgery verifies that mutating calls attach
the anti-forgery header fetched through the token cache.
*/
func TestTransport_MutatingCarriesAntiForgery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "antiforgery-test", r.Header.Get(constants.HeaderAntiForgery))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	response, err := transport.DoMutating(context.Background(), http.MethodPost, "/v1/users", []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.Status)
}

/*
TestTransport_ForbiddenClearsLocalState verifies that a FORBIDDEN outcome on
a mutating call drops the anti-forgery token and cached credential instead
of being retried.
*/
func TestTransport_ForbiddenClearsLocalState(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	transport, cache := newTestTransport(server.URL)
	cache.SetCredential(&auth.Credential{
		AccessSecret:  "access",
		RefreshSecret: "refresh",
		ExpiresAt:     time.Now().Add(time.Hour),
	})

	_, err := transport.DoMutating(context.Background(), http.MethodPost, "/v1/users", []byte(`{}`))

	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.CodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Nil(t, cache.Credential())
}

/*
TestTransport_RateLimitedCarriesRetryAfter verifies that the server's
Retry-After hint is parsed into the rate-limit error.
*/
func TestTransport_RateLimitedCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(constants.HeaderRetryAfter, "45")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	transport, _ := newTestTransport(server.URL)

	_, err := transport.Do(context.Background(), http.MethodGet, "/v1/menu", nil)

	require.Error(t, err)
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "RATE_LIMITED", appError.Code)
	assert.Equal(t, 45, appError.RetryAfterSeconds)
}
