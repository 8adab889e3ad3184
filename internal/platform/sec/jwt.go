// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Package sec provides cryptographic primitives and token inspection helpers.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, token digests, JWT
// signing and claim extraction) from the domain logic. Two token families
// pass through here:
//
//   - Provider-issued tokens: signature verification is delegated to the
//     external provider's verify endpoint; locally we only *inspect* them to
//     learn their expiry, which drives the proactive refresh threshold.
//   - Legacy tokens: signed and verified locally by [TokenService] with HS256
//     while the embedded credential store still accepts sign-ins. This path
//     disappears when the cut-over completes.
package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set Savora trusts from the external provider.
//
// # Why minimal?
//
// Provider responses are treated as opaque beyond status plus this set. Any
// richer profile data must be fetched through the profile endpoints, not
// smuggled through token claims.
type Claims struct {
	// Subject is the provider-side identity ID (the external mapping target).
	Subject string `json:"sub"`
	// Email is the primary email address on the external account.
	Email string `json:"email,omitempty"`
	// IsAnonymous marks guest accounts that were never upgraded.
	IsAnonymous bool `json:"anon,omitempty"`
	// EmailVerified reports whether the provider has confirmed the email.
	EmailVerified bool `json:"email_verified,omitempty"`
}

// tokenClaims is the JWT payload shape used for local inspection.
type tokenClaims struct {
	jwt.RegisteredClaims

	IsAnonymous   bool   `json:"anon,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// ExtractExpiry reads the 'exp' claim from an access secret WITHOUT verifying
// the signature.
//
// # Safety
//
// The result is only used to schedule proactive refreshes. Every trust
// decision (is this session valid? who is it?) goes through the provider's
// verify endpoint, so a forged expiry can at worst trigger a harmless early
// refresh.
func ExtractExpiry(accessSecret string) (time.Time, error) {
	parser := jwt.NewParser()

	claims := &tokenClaims{}
	if _, _, err := parser.ParseUnverified(accessSecret, claims); err != nil {
		return time.Time{}, fmt.Errorf("auth: failed to parse access secret: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("auth: access secret carries no expiry claim")
	}

	return claims.ExpiresAt.Time, nil
}

// ExtractClaims reads the minimal claim set from an access secret WITHOUT
// verifying the signature. Display/use only; see [ExtractExpiry] for the
// trust boundary.
func ExtractClaims(accessSecret string) (*Claims, error) {
	parser := jwt.NewParser()

	claims := &tokenClaims{}
	if _, _, err := parser.ParseUnverified(accessSecret, claims); err != nil {
		return nil, fmt.Errorf("auth: failed to parse access secret: %w", err)
	}

	return &Claims{
		Subject:       claims.Subject,
		Email:         claims.Email,
		IsAnonymous:   claims.IsAnonymous,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// TokenService handles generation and verification of legacy JWT tokens
// using HS256. Only first-party services ever verify these, so a shared
// secret beats the operational cost of an RSA key pair.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new TokenService for the legacy token path.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("auth: legacy signing secret must be at least 32 bytes")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer}, nil
}

// GenerateAccessToken creates a signed legacy access token for an identity.
func (service *TokenService) GenerateAccessToken(identityID, email string, emailVerified bool, timeToLive time.Duration) (string, error) {
	currentTime := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
		Email:         email,
		EmailVerified: emailVerified,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(service.secret)
	if err != nil {
		return "", fmt.Errorf("auth: failed to sign token: %w", err)
	}

	return signedToken, nil
}

// VerifyToken checks the signature and validity of a legacy token string.
func (service *TokenService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
		}
		return service.secret, nil
	}, jwt.WithIssuer(service.issuer))

	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	return &Claims{
		Subject:       claims.Subject,
		Email:         claims.Email,
		IsAnonymous:   claims.IsAnonymous,
		EmailVerified: claims.EmailVerified,
	}, nil
}
