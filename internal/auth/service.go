// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/constants"
	"github.com/savorahq/savora/internal/platform/sec"
	"github.com/savorahq/savora/internal/rollout"
	"github.com/savorahq/savora/pkg/uuidv7"
)

// # Contracts & Types

// FlagsSource supplies the rollout feature flags consulted on every
// sign-in and refresh. The rollout controller satisfies it.
type FlagsSource interface {
	CurrentFlags(ctx context.Context) (rollout.Flags, error)
}

// Service implements the authentication use cases across both credential
// systems during the cut-over.
//
// # Review Process
//
// This service is critical for security. Any changes to the dual-path
// sign-in, rotation, or just-in-time migration logic must be reviewed by
// the security team.
type Service struct {
	identities   identity.Repository
	sessions     SessionRepository
	antiForgery  AntiForgeryStore
	orchestrator *identity.Orchestrator
	provider     Provider
	flags        FlagsSource
	tokens       *sec.TokenService
	registry     *Registry
	logger       *slog.Logger
}

// NewService constructs a new authentication [Service] with its dependencies.
func NewService(
	identities identity.Repository,
	sessions SessionRepository,
	antiForgery AntiForgeryStore,
	orchestrator *identity.Orchestrator,
	provider Provider,
	flags FlagsSource,
	tokens *sec.TokenService,
	registry *Registry,
	logger *slog.Logger,
) *Service {
	return &Service{
		identities:   identities,
		sessions:     sessions,
		antiForgery:  antiForgery,
		orchestrator: orchestrator,
		provider:     provider,
		flags:        flags,
		tokens:       tokens,
		registry:     registry,
		logger:       logger,
	}
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	UserAgent   string
	IPAddress   string
}

/*
Register enrolls a brand new member directly on the external provider.

Description: New accounts never touch the legacy credential store; the
provider owns the password from day one and the local record carries only
the external mapping.

Parameters:
  - ctx: context.Context
  - input: RegisterInput

Returns:
  - *LoginSession: Transport-ready session identifiers
  - error: Conflict (if identity exists) or provider/storage errors
*/
func (service *Service) Register(ctx context.Context, input RegisterInput) (*LoginSession, error) {

	// Verify email uniqueness. Return a client-safe Conflict error.
	_, err := service.identities.FindByEmail(ctx, input.Email)
	if err == nil {
		return nil, apperr.Conflict("Email is already registered")
	}

	// Provision the account on the provider first; a failure here leaves
	// no local state behind.
	account, err := service.provider.CreateUser(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	// Construct the local record. Time-sortable ID to prevent PG index
	// fragmentation.
	record := &identity.Record{
		ID:          uuidv7.New(),
		Email:       input.Email,
		ExternalID:  &account.ID,
		DisplayName: input.DisplayName,
	}

	if err := service.identities.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("auth_service_register_failed: %w", err)
	}

	// Sign the new member straight in.
	credential, err := service.provider.IssueCredential(ctx, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	return service.establishExternalSession(ctx, record, credential, input.UserAgent, input.IPAddress)
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginSession represents a successfully established session.
type LoginSession struct {
	SessionID             string
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Origin                SessionOrigin
	Identity              *identity.Record
}

/*
Login validates credentials along the path the current rollout phase allows.

Description: Migrated members always authenticate through the provider.
Unmigrated members use the embedded store while legacy sign-ins remain
enabled; when the phase redirects to external, a successful legacy check
triggers just-in-time migration so the member leaves with provider-issued
credentials.

Parameters:
  - ctx: context.Context
  - input: LoginInput

Returns:
  - *LoginSession: Transport-ready session identifiers
  - error: Unauthenticated or internal failures
*/
func (service *Service) Login(ctx context.Context, input LoginInput) (*LoginSession, error) {
	flags, err := service.flags.CurrentFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth_service_flags_failed: %w", err)
	}

	// Generic message on lookup failure to prevent enumeration.
	record, err := service.identities.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, apperr.Unauthenticated("Invalid login credentials")
	}

	if record.IsMigrated() {
		if !flags.ExternalAuthEnabled {
			return nil, apperr.ServiceUnavailable("Sign-in is temporarily unavailable")
		}

		credential, err := service.provider.IssueCredential(ctx, input.Email, input.Password)
		if err != nil {
			return nil, err
		}
		return service.establishExternalSession(ctx, record, credential, input.UserAgent, input.IPAddress)
	}

	// Unmigrated member: the embedded store is the only password we hold.
	if !flags.LegacyAuthEnabled {
		return nil, apperr.Unauthenticated("Legacy sign-in has been retired. Please reset your password")
	}

	if record.PasswordHash == nil || !sec.CheckPasswordHash(input.Password, *record.PasswordHash) {
		return nil, apperr.Unauthenticated("Invalid login credentials")
	}

	if flags.RedirectToExternal {
		// Just-in-time migration: the plaintext password is in hand, so the
		// provider account can be created with it and credentials issued in
		// the same breath. A migration failure falls back to the legacy
		// session rather than locking the member out.
		if _, err := service.orchestrator.MigrateRecord(ctx, record, input.Password); err == nil {
			credential, err := service.provider.IssueCredential(ctx, input.Email, input.Password)
			if err == nil {
				return service.establishExternalSession(ctx, record, credential, input.UserAgent, input.IPAddress)
			}
			service.logger.Warn("auth_jit_issue_failed", "identity_id", record.ID, "error", err.Error())
		} else {
			service.logger.Warn("auth_jit_migration_failed", "identity_id", record.ID)
		}
	}

	return service.establishLegacySession(ctx, record, input.UserAgent, input.IPAddress)
}

// # Guest Accounts

/*
CreateGuest provisions an anonymous account and signs it in.

Description: Guests are real provider accounts behind a synthetic email and
a random password nobody knows. Their claims carry the anonymous flag, so
the write gate keeps them read-only until they upgrade.

Parameters:
  - ctx: context.Context
  - userAgent: string
  - ipAddress: string

Returns:
  - *LoginSession: Transport-ready session identifiers
  - error: Provider or storage failures
*/
func (service *Service) CreateGuest(ctx context.Context, userAgent, ipAddress string) (*LoginSession, error) {
	guestID := uuidv7.New()
	email := fmt.Sprintf("guest-%s@%s", guestID, GuestEmailDomain)

	password, err := sec.GenerateSecureToken(GuestPasswordLength)
	if err != nil {
		return nil, fmt.Errorf("auth_service_guest_password_failed: %w", err)
	}

	account, err := service.provider.CreateUser(ctx, email, password)
	if err != nil {
		return nil, err
	}

	record := &identity.Record{
		ID:          guestID,
		Email:       email,
		ExternalID:  &account.ID,
		DisplayName: "Guest",
	}
	if err := service.identities.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("auth_service_guest_create_failed: %w", err)
	}

	credential, err := service.provider.IssueCredential(ctx, email, password)
	if err != nil {
		return nil, err
	}

	return service.establishExternalSession(ctx, record, credential, userAgent, ipAddress)
}

// UpgradeGuestInput holds the data to convert a guest into a full member.
type UpgradeGuestInput struct {
	IdentityID string
	Email      string
	Password   string
}

/*
UpgradeGuest attaches a real email and password to an anonymous account.

Description: The provider clears the anonymous flag and begins email
verification; accumulated guest activity stays attached to the same
identity record.

Parameters:
  - ctx: context.Context
  - input: UpgradeGuestInput

Returns:
  - *identity.Record: The updated record
  - error: Conflict, provider, or storage failures
*/
func (service *Service) UpgradeGuest(ctx context.Context, input UpgradeGuestInput) (*identity.Record, error) {
	record, err := service.resolveSubject(ctx, input.IdentityID)
	if err != nil {
		return nil, err
	}
	if record.ExternalID == nil {
		return nil, apperr.Conflict("Account cannot be upgraded")
	}

	// Verify email uniqueness before touching the provider.
	if _, err := service.identities.FindByEmail(ctx, input.Email); err == nil {
		return nil, apperr.Conflict("Email is already registered")
	}

	if _, err := service.provider.UpgradeUser(ctx, *record.ExternalID, input.Email, input.Password); err != nil {
		return nil, err
	}

	if err := service.identities.UpdateEmail(ctx, record.ID, input.Email); err != nil {
		return nil, fmt.Errorf("auth_service_upgrade_persist_failed: %w", err)
	}

	record.Email = input.Email
	service.logger.Info("auth_guest_upgraded", "identity_id", record.ID)
	return record, nil
}

// # Session Management

/*
Logout permanently revokes the presented session.

Description: Idempotent; an already-gone session still counts as a
successful sign-out. The in-memory manager for the session is dropped so
its cached credentials die with it.

Parameters:
  - ctx: context.Context
  - refreshToken: string

Returns:
  - error: Revocation failures
*/
func (service *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshHash := sec.HashToken(refreshToken)

	session, err := service.sessions.FindByRefreshHash(ctx, refreshHash)
	if err != nil {
		return nil
	}

	if err := service.sessions.Revoke(ctx, session.ID); err != nil {
		return fmt.Errorf("auth_service_logout_failed: %w", err)
	}

	service.registry.Remove(session.ID)
	return nil
}

/*
RefreshSession implements refresh secret rotation.

Description: The presented secret is matched by hash, then replaced in
place — external sessions exchange theirs at the provider, legacy sessions
mint a fresh local pair. A stolen old secret is dead the moment the
legitimate holder rotates.

Parameters:
  - ctx: context.Context
  - refreshToken: string

Returns:
  - *LoginSession: New session credentials under the same session ID
  - error: Unauthenticated or storage failures
*/
func (service *Service) RefreshSession(ctx context.Context, refreshToken string) (*LoginSession, error) {
	refreshHash := sec.HashToken(refreshToken)

	session, err := service.sessions.FindByRefreshHash(ctx, refreshHash)
	if err != nil {
		return nil, apperr.Unauthenticated("Invalid or expired refresh token")
	}

	record, err := service.identities.FindByID(ctx, session.IdentityID)
	if err != nil {
		return nil, apperr.Unauthenticated("Identity not found or suspended")
	}

	switch session.Origin {
	case OriginExternal:
		credential, err := service.provider.RefreshCredential(ctx, refreshToken)
		if err != nil {
			return nil, err
		}

		expiresAt := time.Now().Add(constants.RefreshTokenTTL)
		if err := service.sessions.Rotate(ctx, session.ID, sec.HashToken(credential.RefreshSecret), expiresAt); err != nil {
			return nil, fmt.Errorf("auth_service_refresh_rotate_failed: %w", err)
		}

		service.registry.Seed(session.ID, credential)

		return &LoginSession{
			SessionID:             session.ID,
			AccessToken:           credential.AccessSecret,
			RefreshToken:          credential.RefreshSecret,
			RefreshTokenExpiresAt: expiresAt,
			Origin:                OriginExternal,
			Identity:              record,
		}, nil

	default:
		return service.rotateLegacySession(ctx, session, record)
	}
}

/*
Profile returns the identity record behind an authenticated session.

Parameters:
  - ctx: context.Context
  - subject: string (local identity ID or provider-side external ID)

Returns:
  - *identity.Record: Hydrated record
  - error: NotFound or storage failures
*/
func (service *Service) Profile(ctx context.Context, subject string) (*identity.Record, error) {
	return service.resolveSubject(ctx, subject)
}

// resolveSubject maps a token subject onto the local record. Legacy tokens
// carry the local identity ID; provider tokens carry the external ID.
func (service *Service) resolveSubject(ctx context.Context, subject string) (*identity.Record, error) {
	record, err := service.identities.FindByID(ctx, subject)
	if err == nil {
		return record, nil
	}
	return service.identities.FindByExternalID(ctx, subject)
}

// PurgeExpiredSessions physically removes rows past their expiry.
// Called by the background janitor.
func (service *Service) PurgeExpiredSessions(ctx context.Context) error {
	return service.sessions.DeleteExpired(ctx)
}

// # Anti-Forgery

/*
IssueAntiForgeryToken mints a token the client must echo on mutating calls.

Description: The token is random, server-remembered in Redis with a natural
TTL, and bound to nothing else — possession plus the session cookie is the
proof.

Parameters:
  - ctx: context.Context

Returns:
  - string: The token to echo in the X-Anti-Forgery-Token header
  - error: Generation or storage failures
*/
func (service *Service) IssueAntiForgeryToken(ctx context.Context) (string, error) {
	token, err := sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return "", fmt.Errorf("auth_service_antiforgery_generate_failed: %w", err)
	}

	if err := service.antiForgery.Store(ctx, token, constants.AntiForgeryTokenTTL); err != nil {
		return "", fmt.Errorf("auth_service_antiforgery_store_failed: %w", err)
	}

	return token, nil
}

// # Internal Session Plumbing

// establishExternalSession persists a bookkeeping row for provider-issued
// credentials and registers an in-memory manager for the session.
func (service *Service) establishExternalSession(ctx context.Context, record *identity.Record, credential *Credential, userAgent, ipAddress string) (*LoginSession, error) {
	expiresAt := time.Now().Add(constants.RefreshTokenTTL)
	session := &Session{
		ID:          uuidv7.New(),
		IdentityID:  record.ID,
		RefreshHash: sec.HashToken(credential.RefreshSecret),
		Origin:      OriginExternal,
		UserAgent:   userAgent,
		IPAddress:   ipAddress,
		ExpiresAt:   expiresAt,
	}

	if err := service.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("auth_service_session_creation_failed: %w", err)
	}

	service.registry.Attach(session.ID, credential)
	service.logger.Info("auth_session_established",
		"identity_id", record.ID,
		"session_id", session.ID,
		"origin", OriginExternal,
	)

	return &LoginSession{
		SessionID:             session.ID,
		AccessToken:           credential.AccessSecret,
		RefreshToken:          credential.RefreshSecret,
		RefreshTokenExpiresAt: expiresAt,
		Origin:                OriginExternal,
		Identity:              record,
	}, nil
}

// establishLegacySession mints a local token pair for an unmigrated member.
func (service *Service) establishLegacySession(ctx context.Context, record *identity.Record, userAgent, ipAddress string) (*LoginSession, error) {
	accessToken, refreshToken, err := service.mintLegacyPair(record)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(constants.RefreshTokenTTL)
	session := &Session{
		ID:          uuidv7.New(),
		IdentityID:  record.ID,
		RefreshHash: sec.HashToken(refreshToken),
		Origin:      OriginLegacy,
		UserAgent:   userAgent,
		IPAddress:   ipAddress,
		ExpiresAt:   expiresAt,
	}

	if err := service.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("auth_service_session_creation_failed: %w", err)
	}

	service.logger.Info("auth_session_established",
		"identity_id", record.ID,
		"session_id", session.ID,
		"origin", OriginLegacy,
	)

	return &LoginSession{
		SessionID:             session.ID,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: expiresAt,
		Origin:                OriginLegacy,
		Identity:              record,
	}, nil
}

// rotateLegacySession swaps both halves of a legacy pair in place.
func (service *Service) rotateLegacySession(ctx context.Context, session *Session, record *identity.Record) (*LoginSession, error) {
	accessToken, refreshToken, err := service.mintLegacyPair(record)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(constants.RefreshTokenTTL)
	if err := service.sessions.Rotate(ctx, session.ID, sec.HashToken(refreshToken), expiresAt); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_rotate_failed: %w", err)
	}

	return &LoginSession{
		SessionID:             session.ID,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: expiresAt,
		Origin:                OriginLegacy,
		Identity:              record,
	}, nil
}

// mintLegacyPair signs an access token and draws a fresh refresh secret.
// Legacy records predate provider-side verification, so their email counts
// as verified.
func (service *Service) mintLegacyPair(record *identity.Record) (accessToken, refreshToken string, err error) {
	accessToken, err = service.tokens.GenerateAccessToken(record.ID, record.Email, true, AccessTokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	refreshToken, err = sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return "", "", fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	return accessToken, refreshToken, nil
}
