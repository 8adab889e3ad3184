// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import "time"

// # Authentication Constraints

const (
	// AccessTokenTTL is the duration a legacy access token remains valid.
	// We keep it short (15m) to minimize the impact of a leaked token.
	// Provider-issued tokens carry their own expiry.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenLength is the byte length of the random refresh secret
	// minted for legacy sessions.
	RefreshTokenLength = 32

	// GuestEmailDomain forms the synthetic address for anonymous accounts.
	GuestEmailDomain = "guest.savora.app"

	// GuestPasswordLength is the byte length of the random password backing
	// an anonymous provider account until the guest upgrades.
	GuestPasswordLength = 32

	// SessionCookieName carries the opaque session ID that keys the
	// in-memory manager registry.
	SessionCookieName = "session_id"
)
