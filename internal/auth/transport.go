// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
)

// Response is the classified result of one provider call.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// RefreshFunc is invoked by the transport when a call comes back
// unauthenticated, before the call is retried exactly once. The session
// manager installs its bounded refresh flow here.
type RefreshFunc func(ctx context.Context) error

// Transport issues authenticated calls against the external identity provider.
//
// # Responsibilities
//
//   - Per-endpoint minimum inter-request spacing (token bucket, burst 1).
//   - In-flight deduplication keyed by (method, endpoint, body) so identical
//     concurrent calls share one round trip.
//   - Classification of outcomes into the apperr taxonomy: UNAUTHENTICATED,
//     FORBIDDEN, RATE_LIMITED, PAYLOAD_TOO_LARGE, TRANSIENT_NETWORK, success.
//   - One refresh-and-retry cycle on UNAUTHENTICATED before surfacing.
//   - Anti-forgery + credential invalidation on FORBIDDEN.
type Transport struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cache   *TokenCache
	logger  *slog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	interval  time.Duration

	flightGroup singleflight.Group

	refreshMu  sync.RWMutex
	refresh    RefreshFunc
	refreshing atomic.Bool
}

// NewTransport constructs a Transport over the provider base URL.
//
// The HTTP client timeout is intentionally left at zero: each call carries
// its own hard deadline via context ([constants.ProviderCallTimeout]).
func NewTransport(baseURL, apiKey string, cache *TokenCache, logger *slog.Logger) *Transport {
	return &Transport{
		client:   &http.Client{},
		baseURL:  baseURL,
		apiKey:   apiKey,
		cache:    cache,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		interval: constants.MinEndpointInterval,
	}
}

// SetRefreshFunc installs the bounded refresh flow. Wired once during
// startup by the session manager; a nil func disables the retry cycle.
func (transport *Transport) SetRefreshFunc(refresh RefreshFunc) {
	transport.refreshMu.Lock()
	defer transport.refreshMu.Unlock()
	transport.refresh = refresh
}

// Do issues a non-mutating call and classifies the outcome.
//
// # Flow
//  1. Wait out the per-endpoint minimum spacing.
//  2. Collapse identical concurrent calls into one flight.
//  3. On UNAUTHENTICATED, run one refresh-and-retry cycle, then surface.
//
// The installed refresh flow typically calls back through this transport;
// a 401 observed while a refresh is already in flight skips the cycle and
// surfaces directly, so the recovery path cannot recurse.
func (transport *Transport) Do(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	response, err := transport.doOnce(ctx, method, endpoint, body, "")
	if err == nil || apperr.CodeOf(err) != "UNAUTHENTICATED" {
		return response, err
	}

	// ── Refresh-and-retry (exactly one cycle) ─────────────────────────────
	transport.refreshMu.RLock()
	refresh := transport.refresh
	transport.refreshMu.RUnlock()

	if refresh == nil {
		return nil, err
	}

	// The refresh call itself travels through this transport. The guard
	// keeps a 401 raised inside that call from re-entering the cycle.
	if !transport.refreshing.CompareAndSwap(false, true) {
		return nil, err
	}
	refreshErr := refresh(ctx)
	transport.refreshing.Store(false)

	if refreshErr != nil {
		// Refresh itself failed; surface the original classification.
		return nil, err
	}

	return transport.doOnce(ctx, method, endpoint, body, "")
}

// DoMutating issues a mutating call carrying the anti-forgery token.
//
// On FORBIDDEN the anti-forgery token and local credential state are cleared
// before the error propagates — forbidden outcomes are never blindly retried.
func (transport *Transport) DoMutating(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	antiForgery, err := transport.cache.AntiForgeryToken(ctx)
	if err != nil {
		return nil, err
	}

	response, err := transport.doOnce(ctx, method, endpoint, body, antiForgery)
	if err != nil && apperr.CodeOf(err) == "FORBIDDEN" {
		transport.cache.InvalidateAntiForgery()
		transport.cache.Clear()
	}
	return response, err
}

// doOnce performs a single spaced, deduplicated round trip.
func (transport *Transport) doOnce(ctx context.Context, method, endpoint string, body []byte, antiForgery string) (*Response, error) {
	// ── 1. Per-Endpoint Spacing ───────────────────────────────────────────
	if err := transport.limiterFor(endpoint).Wait(ctx); err != nil {
		return nil, apperr.TransientNetwork(err)
	}

	// ── 2. In-Flight Deduplication ────────────────────────────────────────
	key := flightKey(method, endpoint, body)
	result, err, _ := transport.flightGroup.Do(key, func() (any, error) {
		return transport.roundTrip(ctx, method, endpoint, body, antiForgery)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Response), nil
}

// roundTrip executes the HTTP exchange under the hard provider timeout and
// classifies the outcome.
func (transport *Transport) roundTrip(ctx context.Context, method, endpoint string, body []byte, antiForgery string) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, constants.ProviderCallTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, method, transport.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_transport_build_request_failed: %w", err))
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-API-Key", transport.apiKey)
	if credential := transport.cache.Credential(); credential != nil {
		request.Header.Set("Authorization", "Bearer "+credential.AccessSecret)
	}
	if antiForgery != "" {
		request.Header.Set(constants.HeaderAntiForgery, antiForgery)
	}

	httpResponse, err := transport.client.Do(request)
	if err != nil {
		// Timeouts and connection failures are transient by classification.
		transport.logger.Warn("provider_call_network_failure",
			slog.String("endpoint", endpoint),
			slog.Any("error", err),
		)
		return nil, apperr.TransientNetwork(err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, apperr.TransientNetwork(err)
	}

	response := &Response{
		Status: httpResponse.StatusCode,
		Body:   responseBody,
		Header: httpResponse.Header,
	}

	if err := classify(response, endpoint); err != nil {
		return nil, err
	}

	return response, nil
}

// classify maps an HTTP status onto the error taxonomy. A nil return means success.
func classify(response *Response, endpoint string) error {
	switch {
	case response.Status >= 200 && response.Status < 300:
		return nil

	case response.Status == http.StatusUnauthorized:
		return apperr.Unauthenticated("Provider rejected the credential")

	case response.Status == http.StatusForbidden:
		return apperr.Forbidden("Provider rejected the anti-forgery token")

	case response.Status == http.StatusNotFound:
		return apperr.NotFound("External identity")

	case response.Status == http.StatusConflict:
		return apperr.Conflict("External identity already exists")

	case response.Status == http.StatusRequestEntityTooLarge:
		// Almost always header/cookie bloat; never retried.
		return apperr.PayloadTooLarge(fmt.Sprintf("endpoint %s rejected %d bytes of request state", endpoint, len(response.Body)))

	case response.Status == http.StatusTooManyRequests:
		return apperr.RateLimited(retryAfterSeconds(response.Header))

	default:
		// Remaining 4xx are provider contract violations; 5xx are transient.
		if response.Status < 500 {
			return apperr.Internal(fmt.Errorf("auth_transport_unexpected_status: %d from %s", response.Status, endpoint))
		}
		return apperr.TransientNetwork(errors.New("provider returned " + strconv.Itoa(response.Status)))
	}
}

// retryAfterSeconds parses the server-provided backoff hint, defaulting to 30s.
func retryAfterSeconds(header http.Header) int {
	raw := header.Get(constants.HeaderRetryAfter)
	if raw == "" {
		return 30
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 30
	}
	return seconds
}

// limiterFor returns (creating if needed) the spacing limiter for an endpoint.
func (transport *Transport) limiterFor(endpoint string) *rate.Limiter {
	transport.limiterMu.Lock()
	defer transport.limiterMu.Unlock()

	limiter, found := transport.limiters[endpoint]
	if !found {
		// Burst of 1 turns the token bucket into a pure minimum-interval gate.
		limiter = rate.NewLimiter(rate.Every(transport.interval), 1)
		transport.limiters[endpoint] = limiter
	}
	return limiter
}

// flightKey builds the deduplication key from (method, endpoint, body).
func flightKey(method, endpoint string, body []byte) string {
	digest := sha256.Sum256(body)
	return method + " " + endpoint + " " + hex.EncodeToString(digest[:8])
}
