// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Session Lifecycle: Refresh thresholds and bounded retry limits.
  - Migration: Batch sizing, coverage thresholds, retention windows.
  - Rate Limiting: Burst capacities and IP tracking TTLs.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "savora-api"
	AppVersion = "0.3.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Session Lifecycle

const (
	// ProviderCallTimeout is the hard deadline for a single outbound call to
	// the external identity provider. Calls exceeding it are classified as
	// TRANSIENT_NETWORK.
	ProviderCallTimeout = 10 * time.Second

	// RefreshThreshold is the remaining validity under which the session
	// manager proactively refreshes a credential instead of waiting for it
	// to expire mid-request.
	RefreshThreshold = 5 * time.Minute

	// SessionCheckInterval is the period between automatic session validity checks.
	SessionCheckInterval = 1 * time.Minute

	// MaxRefreshAttempts bounds the consecutive refresh failures tolerated
	// before the session is forced inactive and credentials are cleared.
	MaxRefreshAttempts = 2

	// MaxCredentialFetchAttempts bounds the anti-forgery/credential fetch
	// retry loop in the token cache before a terminal re-authenticate signal.
	MaxCredentialFetchAttempts = 3

	// MinEndpointInterval is the default minimum spacing between two requests
	// to the same provider endpoint.
	MinEndpointInterval = 100 * time.Millisecond

	// RefreshTokenTTL is the lifetime of a legacy refresh-token session row.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// AntiForgeryTokenTTL is the Redis lifetime of an issued anti-forgery token.
	AntiForgeryTokenTTL = 12 * time.Hour
)

// # Identity Migration

const (
	// DefaultMigrationBatchSize is the number of pending entries a single
	// orchestrator pass claims when the operator does not override it.
	DefaultMigrationBatchSize = 50

	// MigrationCoverageThreshold is the fraction of identities that must be
	// mapped to the external provider before a forward phase transition.
	MigrationCoverageThreshold = 0.95

	// MigrationLogRetention is how long terminal (success/failed) migration
	// log rows are kept before the retention sweep removes them.
	MigrationLogRetention = 90 * 24 * time.Hour

	// NearExpirySessionWindow flags active legacy sessions expiring within
	// this window as a reason to defer cleanup.
	NearExpirySessionWindow = 1 * time.Hour
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the expected 'iss' claim on provider-issued JWTs.
	AuthIssuer = "id.savora.app"

	// RefreshTokenCookieName is the name of the cookie that stores the refresh token.
	RefreshTokenCookieName = "refresh_token"

	// RefreshTokenCookiePath is the scoped path for the refresh token cookie.
	RefreshTokenCookiePath = "/api/v1/auth"

	// HeaderAntiForgery carries the anti-forgery token on mutating requests.
	HeaderAntiForgery = "X-Anti-Forgery-Token"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderRetryAfter    = "Retry-After"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldMeta    = "meta"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
	FieldApp     = "app"
	FieldVersion = "version"
	FieldChecks  = "checks"
)

// # Database Schemas

const (
	SchemaIdentity = "identity"
	SchemaRollout  = "rollout"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	RedisPrefixAntiForgery = "auth:antiforgery:"
	RedisPrefixResetToken  = "auth:reset_token:"
)
