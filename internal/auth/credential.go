// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Package auth implements the authentication session core of the Savora platform.
//
// # Architecture
//
// The package is layered leaf to root: [TokenCache] holds the current
// credential and anti-forgery token, [Transport] issues classified calls to
// the external identity provider, [SessionManager] drives the session state
// machine on top of both, and [Gate] derives write capabilities from the
// resulting identity state. Services in this package orchestrate domain
// entities and interact with repositories through interfaces; they do not
// know about HTTP or SQL.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
)

// ErrReauthenticate is the terminal signal returned once credential retrieval
// has exhausted its bounded retry budget. Callers must send the user back
// through login; nothing below this layer will retry further.
var ErrReauthenticate = apperr.Unauthenticated("Session expired. Please sign in again")

// Credential is the short-lived access proof plus longer-lived refresh proof
// for one authenticated principal.
//
// # Security Concept
//
// The access secret lives only in process memory (or a secure cookie on the
// client side) — it is never written to durable storage. The refresh secret
// is persisted only as a SHA-256 hash on the legacy session row.
type Credential struct {
	AccessSecret  string    `json:"access_secret"`
	RefreshSecret string    `json:"refresh_secret"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// IsExpired reports whether the access secret has passed its expiry.
func (c *Credential) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Remaining returns the validity window left on the access secret.
// Negative values mean the credential is already expired.
func (c *Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// NearExpiry reports whether the credential should be proactively refreshed.
func (c *Credential) NearExpiry(now time.Time, threshold time.Duration) bool {
	return c.Remaining(now) < threshold
}

// AntiForgeryFetcher retrieves a fresh anti-forgery token from the provider.
// The production implementation is a [Transport]-backed call; tests inject stubs.
type AntiForgeryFetcher func(ctx context.Context) (string, error)

// TokenCache owns the in-memory credential pair and the secondary
// anti-forgery token required on mutating calls.
//
// # Concurrency
//
// Simultaneous anti-forgery fetches are collapsed into one in-flight request
// via singleflight — for N concurrent callers, exactly one provider round
// trip is made and all callers share its outcome.
type TokenCache struct {
	mu          sync.RWMutex
	credential  *Credential
	antiForgery string

	fetchGroup  singleflight.Group
	fetch       AntiForgeryFetcher
	maxAttempts int
}

// NewTokenCache constructs an empty cache with the given anti-forgery fetcher.
func NewTokenCache(fetch AntiForgeryFetcher) *TokenCache {
	return &TokenCache{
		fetch:       fetch,
		maxAttempts: constants.MaxCredentialFetchAttempts,
	}
}

// SetFetcher installs the anti-forgery fetcher after construction. The
// transport and its cache are built before the provider that backs the
// fetch, so startup wiring binds it late.
func (cache *TokenCache) SetFetcher(fetch AntiForgeryFetcher) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.fetch = fetch
}

// Credential returns the currently cached credential, or nil when signed out.
func (cache *TokenCache) Credential() *Credential {
	cache.mu.RLock()
	defer cache.mu.RUnlock()
	return cache.credential
}

// SetCredential replaces the cached credential pair.
func (cache *TokenCache) SetCredential(credential *Credential) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.credential = credential
}

// Clear drops the credential pair and the anti-forgery token.
// Called on logout, expiry, and explicit invalidation.
func (cache *TokenCache) Clear() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.credential = nil
	cache.antiForgery = ""
}

// InvalidateAntiForgery drops only the anti-forgery token.
//
// Invoked whenever a mutating request is rejected as forbidden — the token
// is presumed stale and the next mutating call will fetch a fresh one.
func (cache *TokenCache) InvalidateAntiForgery() {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.antiForgery = ""
}

// AntiForgeryToken returns the cached anti-forgery token, fetching it from
// the provider if absent.
//
// # Flow
//  1. Return the cached token when present.
//  2. Otherwise fetch, deduplicated so concurrent callers share one flight.
//  3. The fetch retries with exponential backoff and jitter, bounded by
//     [constants.MaxCredentialFetchAttempts].
//  4. On exhaustion the cache clears itself and returns [ErrReauthenticate]
//     rather than retrying indefinitely.
func (cache *TokenCache) AntiForgeryToken(ctx context.Context) (string, error) {
	cache.mu.RLock()
	token := cache.antiForgery
	cache.mu.RUnlock()

	if token != "" {
		return token, nil
	}

	// Collapse concurrent fetches into a single in-flight request.
	result, err, _ := cache.fetchGroup.Do("antiforgery", func() (any, error) {
		return cache.fetchWithBackoff(ctx)
	})
	if err != nil {
		return "", err
	}

	fetched := result.(string)
	cache.mu.Lock()
	cache.antiForgery = fetched
	cache.mu.Unlock()

	return fetched, nil
}

// fetchWithBackoff runs the anti-forgery fetch under a bounded exponential
// backoff policy with jitter.
func (cache *TokenCache) fetchWithBackoff(ctx context.Context) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	// RandomizationFactor defaults to 0.5, giving the jitter we need to
	// avoid synchronized retry storms.
	policy.MaxElapsedTime = 0

	cache.mu.RLock()
	fetch := cache.fetch
	cache.mu.RUnlock()

	var token string
	operation := func() error {
		fetched, err := fetch(ctx)
		if err != nil {
			// Forbidden and unauthenticated outcomes will not heal by
			// retrying the same request.
			code := apperr.CodeOf(err)
			if code == "FORBIDDEN" || code == "UNAUTHENTICATED" {
				return backoff.Permanent(err)
			}
			return err
		}
		token = fetched
		return nil
	}

	bounded := backoff.WithMaxRetries(policy, uint64(cache.maxAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(bounded, ctx)); err != nil {
		// Exhausted: drop all local security state and signal re-auth.
		cache.Clear()
		return "", ErrReauthenticate
	}

	return token, nil
}
