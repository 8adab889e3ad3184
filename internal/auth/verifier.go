// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/savorahq/savora/internal/platform/sec"
)

// Verifier resolves bearer tokens from either credential system.
//
// # Order of Trust
//
// Legacy tokens are HS256-signed locally and verified without a network
// hop, so they are tried first. Anything that fails local verification is
// assumed to be provider-issued and checked at the provider's verify
// endpoint, with concurrent identical checks collapsed into one call.
type Verifier struct {
	tokens   *sec.TokenService
	provider Provider

	flightGroup singleflight.Group
}

// NewVerifier constructs a [Verifier] over both token families.
func NewVerifier(tokens *sec.TokenService, provider Provider) *Verifier {
	return &Verifier{tokens: tokens, provider: provider}
}

// VerifyToken implements the middleware's token verification contract.
func (verifier *Verifier) VerifyToken(ctx context.Context, tokenString string) (*sec.Claims, error) {
	if claims, err := verifier.tokens.VerifyToken(tokenString); err == nil {
		return claims, nil
	}

	// The flight key is a digest, never the token itself, so raw secrets
	// stay out of any instrumentation that observes singleflight keys.
	result, err, _ := verifier.flightGroup.Do(sec.HashToken(tokenString), func() (any, error) {
		return verifier.provider.VerifyToken(ctx, tokenString)
	})
	if err != nil {
		return nil, err
	}

	return result.(*sec.Claims), nil
}
