// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/sec"
)

// Provider is the narrow contract against the external identity provider.
//
// # Why an interface?
//
// The provider is a black box consumed through exactly these operations;
// responses are treated as opaque beyond status and the minimal claim set.
// A test double substitutes it in unit tests, the [HTTPProvider] is injected
// in production.
type Provider interface {
	identity.ExternalDirectory

	// IssueCredential authenticates email/password and returns a fresh pair.
	IssueCredential(ctx context.Context, email, password string) (*Credential, error)

	// RefreshCredential exchanges a refresh secret for a fresh pair.
	RefreshCredential(ctx context.Context, refreshSecret string) (*Credential, error)

	// VerifyToken checks an access secret and returns the minimal claim set.
	VerifyToken(ctx context.Context, accessSecret string) (*sec.Claims, error)

	// UpgradeUser attaches an email and password to an anonymous account.
	UpgradeUser(ctx context.Context, externalID, email, password string) (*identity.ExternalAccount, error)

	// FetchAntiForgeryToken retrieves a fresh anti-forgery token for
	// mutating provider calls. Installed as the [TokenCache] fetcher.
	FetchAntiForgeryToken(ctx context.Context) (string, error)

	// Ping verifies provider connectivity for readiness checks.
	Ping(ctx context.Context) error
}

// HTTPProvider implements [Provider] over a classified [Transport].
type HTTPProvider struct {
	transport *Transport
}

// NewHTTPProvider wraps a transport in the provider contract.
func NewHTTPProvider(transport *Transport) *HTTPProvider {
	return &HTTPProvider{transport: transport}
}

// credentialPayload mirrors the provider's token response wire shape.
type credentialPayload struct {
	AccessSecret  string    `json:"access_token"`
	RefreshSecret string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// accountPayload mirrors the provider's user resource wire shape.
type accountPayload struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// CreateUser provisions an external account for email.
//
// An empty password is allowed for batch migration imports — the provider
// then requires the member to set one on first external login.
func (provider *HTTPProvider) CreateUser(ctx context.Context, email, password string) (*identity.ExternalAccount, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_create_user_encode_failed: %w", err))
	}

	response, err := provider.transport.DoMutating(ctx, http.MethodPost, "/v1/users", body)
	if err != nil {
		return nil, err
	}

	return decodeAccount(response.Body)
}

// FindUserByEmail looks up the external account matching email.
//
// Returns [apperr.NotFound] when no account exists — the orchestrator's
// find-or-create path depends on that classification.
func (provider *HTTPProvider) FindUserByEmail(ctx context.Context, email string) (*identity.ExternalAccount, error) {
	endpoint := "/v1/users/lookup?email=" + url.QueryEscape(email)
	response, err := provider.transport.Do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	return decodeAccount(response.Body)
}

// IssueCredential authenticates against the provider and returns a fresh pair.
func (provider *HTTPProvider) IssueCredential(ctx context.Context, email, password string) (*Credential, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_issue_credential_encode_failed: %w", err))
	}

	response, err := provider.transport.Do(ctx, http.MethodPost, "/v1/token", body)
	if err != nil {
		return nil, err
	}

	return decodeCredential(response.Body)
}

// RefreshCredential exchanges the refresh secret for a fresh pair.
func (provider *HTTPProvider) RefreshCredential(ctx context.Context, refreshSecret string) (*Credential, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshSecret})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_refresh_credential_encode_failed: %w", err))
	}

	response, err := provider.transport.Do(ctx, http.MethodPost, "/v1/token/refresh", body)
	if err != nil {
		return nil, err
	}

	return decodeCredential(response.Body)
}

// VerifyToken checks the access secret server-side and returns claims.
func (provider *HTTPProvider) VerifyToken(ctx context.Context, accessSecret string) (*sec.Claims, error) {
	body, err := json.Marshal(map[string]string{"access_token": accessSecret})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_verify_token_encode_failed: %w", err))
	}

	response, err := provider.transport.Do(ctx, http.MethodPost, "/v1/token/verify", body)
	if err != nil {
		return nil, err
	}

	claims := &sec.Claims{}
	if err := json.Unmarshal(response.Body, claims); err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_verify_token_decode_failed: %w", err))
	}

	return claims, nil
}

// UpgradeUser attaches an email and password to an anonymous account.
//
// The provider clears the anonymous flag and starts its own email
// verification flow; until that completes the claims carry
// email_verified=false, which keeps the write gate closed.
func (provider *HTTPProvider) UpgradeUser(ctx context.Context, externalID, email, password string) (*identity.ExternalAccount, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_upgrade_user_encode_failed: %w", err))
	}

	endpoint := "/v1/users/" + url.PathEscape(externalID)
	response, err := provider.transport.DoMutating(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return nil, err
	}

	return decodeAccount(response.Body)
}

// FetchAntiForgeryToken retrieves a fresh anti-forgery token.
//
// Installed as the [TokenCache] fetcher during wiring.
func (provider *HTTPProvider) FetchAntiForgeryToken(ctx context.Context) (string, error) {
	response, err := provider.transport.Do(ctx, http.MethodGet, "/v1/antiforgery", nil)
	if err != nil {
		return "", err
	}

	payload := struct {
		Token string `json:"token"`
	}{}
	if err := json.Unmarshal(response.Body, &payload); err != nil {
		return "", apperr.Internal(fmt.Errorf("provider_antiforgery_decode_failed: %w", err))
	}

	return payload.Token, nil
}

// Ping verifies provider connectivity for readiness checks.
func (provider *HTTPProvider) Ping(ctx context.Context) error {
	_, err := provider.transport.Do(ctx, http.MethodGet, "/v1/health", nil)
	return err
}

func decodeCredential(body []byte) (*Credential, error) {
	payload := credentialPayload{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_credential_decode_failed: %w", err))
	}

	credential := &Credential{
		AccessSecret:  payload.AccessSecret,
		RefreshSecret: payload.RefreshSecret,
		ExpiresAt:     payload.ExpiresAt,
	}

	// Some provider responses omit expires_at; the access token's own exp
	// claim is authoritative in that case.
	if credential.ExpiresAt.IsZero() {
		if expiry, err := sec.ExtractExpiry(credential.AccessSecret); err == nil {
			credential.ExpiresAt = expiry
		}
	}

	return credential, nil
}

func decodeAccount(body []byte) (*identity.ExternalAccount, error) {
	payload := accountPayload{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Internal(fmt.Errorf("provider_account_decode_failed: %w", err))
	}

	return &identity.ExternalAccount{
		ID:            payload.ID,
		Email:         payload.Email,
		EmailVerified: payload.EmailVerified,
	}, nil
}
