// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/savorahq/savora/internal/auth"
	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/apperr"
	"github.com/savorahq/savora/internal/platform/sec"
	"github.com/savorahq/savora/internal/rollout"
)

// discardLogger silences structured output in tests.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider is a function-field test double for the provider contract.
// Unset fields return NOT_FOUND or an empty success, whichever is neutral.
type stubProvider struct {
	createUser        func(ctx context.Context, email, password string) (*identity.ExternalAccount, error)
	findUserByEmail   func(ctx context.Context, email string) (*identity.ExternalAccount, error)
	issueCredential   func(ctx context.Context, email, password string) (*auth.Credential, error)
	refreshCredential func(ctx context.Context, refreshSecret string) (*auth.Credential, error)
	verifyToken       func(ctx context.Context, accessSecret string) (*sec.Claims, error)
	upgradeUser       func(ctx context.Context, externalID, email, password string) (*identity.ExternalAccount, error)
	fetchAntiForgery  func(ctx context.Context) (string, error)
	ping              func(ctx context.Context) error
}

func (p *stubProvider) CreateUser(ctx context.Context, email, password string) (*identity.ExternalAccount, error) {
	if p.createUser != nil {
		return p.createUser(ctx, email, password)
	}
	return &identity.ExternalAccount{ID: "ext-" + email, Email: email}, nil
}

func (p *stubProvider) FindUserByEmail(ctx context.Context, email string) (*identity.ExternalAccount, error) {
	if p.findUserByEmail != nil {
		return p.findUserByEmail(ctx, email)
	}
	return nil, apperr.NotFound("External identity")
}

func (p *stubProvider) IssueCredential(ctx context.Context, email, password string) (*auth.Credential, error) {
	if p.issueCredential != nil {
		return p.issueCredential(ctx, email, password)
	}
	return &auth.Credential{
		AccessSecret:  "access-" + email,
		RefreshSecret: "refresh-" + email,
		ExpiresAt:     time.Now().Add(time.Hour),
	}, nil
}

func (p *stubProvider) RefreshCredential(ctx context.Context, refreshSecret string) (*auth.Credential, error) {
	if p.refreshCredential != nil {
		return p.refreshCredential(ctx, refreshSecret)
	}
	return &auth.Credential{
		AccessSecret:  "access-rotated",
		RefreshSecret: "refresh-rotated",
		ExpiresAt:     time.Now().Add(time.Hour),
	}, nil
}

func (p *stubProvider) VerifyToken(ctx context.Context, accessSecret string) (*sec.Claims, error) {
	if p.verifyToken != nil {
		return p.verifyToken(ctx, accessSecret)
	}
	return nil, apperr.Unauthenticated("Provider rejected the credential")
}

func (p *stubProvider) UpgradeUser(ctx context.Context, externalID, email, password string) (*identity.ExternalAccount, error) {
	if p.upgradeUser != nil {
		return p.upgradeUser(ctx, externalID, email, password)
	}
	return &identity.ExternalAccount{ID: externalID, Email: email}, nil
}

func (p *stubProvider) FetchAntiForgeryToken(ctx context.Context) (string, error) {
	if p.fetchAntiForgery != nil {
		return p.fetchAntiForgery(ctx)
	}
	return "antiforgery-stub", nil
}

func (p *stubProvider) Ping(ctx context.Context) error {
	if p.ping != nil {
		return p.ping(ctx)
	}
	return nil
}

// staticFlags returns the same flag set on every call.
type staticFlags struct {
	flags rollout.Flags
}

func (f *staticFlags) CurrentFlags(ctx context.Context) (rollout.Flags, error) {
	return f.flags, nil
}

// memorySessions is an in-memory SessionRepository.
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string]*auth.Session)}
}

func (m *memorySessions) Create(ctx context.Context, session *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *memorySessions) FindByRefreshHash(ctx context.Context, refreshHash string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.RefreshHash == refreshHash && !session.IsRevoked && session.ExpiresAt.After(time.Now()) {
			clone := *session
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Session")
}

func (m *memorySessions) Rotate(ctx context.Context, sessionID, newHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, found := m.sessions[sessionID]
	if !found {
		return apperr.NotFound("Session")
	}
	session.RefreshHash = newHash
	session.ExpiresAt = expiresAt
	return nil
}

func (m *memorySessions) Revoke(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, found := m.sessions[sessionID]; found {
		session.IsRevoked = true
	}
	return nil
}

func (m *memorySessions) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.IdentityID == identityID {
			session.IsRevoked = true
		}
	}
	return nil
}

func (m *memorySessions) DeleteExpired(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if !session.ExpiresAt.After(time.Now()) {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memorySessions) PurgeMigrated(ctx context.Context) (int, error) { return 0, nil }

func (m *memorySessions) CountActiveNearExpiry(ctx context.Context, window time.Duration) (int, error) {
	return 0, nil
}

// memoryAntiForgery is an in-memory AntiForgeryStore.
type memoryAntiForgery struct {
	mu     sync.Mutex
	tokens map[string]bool
}

func newMemoryAntiForgery() *memoryAntiForgery {
	return &memoryAntiForgery{tokens: make(map[string]bool)}
}

func (m *memoryAntiForgery) Store(ctx context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = true
	return nil
}

func (m *memoryAntiForgery) IsValid(ctx context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[token], nil
}

func (m *memoryAntiForgery) Invalidate(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

// memoryIdentities is an in-memory identity.Repository.
type memoryIdentities struct {
	mu      sync.Mutex
	records map[string]*identity.Record
}

func newMemoryIdentities(records ...*identity.Record) *memoryIdentities {
	m := &memoryIdentities{records: make(map[string]*identity.Record)}
	for _, record := range records {
		clone := *record
		m.records[record.ID] = &clone
	}
	return m
}

func (m *memoryIdentities) Create(ctx context.Context, record *identity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *memoryIdentities) FindByID(ctx context.Context, id string) (*identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, found := m.records[id]; found {
		clone := *record
		return &clone, nil
	}
	return nil, apperr.NotFound("Identity")
}

func (m *memoryIdentities) FindByEmail(ctx context.Context, email string) (*identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.Email == email {
			clone := *record
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Identity")
}

func (m *memoryIdentities) FindByExternalID(ctx context.Context, externalID string) (*identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ExternalID != nil && *record.ExternalID == externalID {
			clone := *record
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Identity")
}

func (m *memoryIdentities) ListUnmigrated(ctx context.Context, limit int) ([]*identity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []*identity.Record
	for _, record := range m.records {
		if !record.IsMigrated() && len(records) < limit {
			clone := *record
			records = append(records, &clone)
		}
	}
	return records, nil
}

func (m *memoryIdentities) SetExternalID(ctx context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, found := m.records[id]
	if !found {
		return apperr.NotFound("Identity")
	}
	record.ExternalID = &externalID
	return nil
}

func (m *memoryIdentities) UpdateEmail(ctx context.Context, id, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, found := m.records[id]
	if !found {
		return apperr.NotFound("Identity")
	}
	record.Email = email
	return nil
}

func (m *memoryIdentities) ScrubPasswordHashes(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scrubbed := 0
	for _, record := range m.records {
		if record.IsMigrated() && record.PasswordHash != nil {
			record.PasswordHash = nil
			scrubbed++
		}
	}
	return scrubbed, nil
}

func (m *memoryIdentities) ListDuplicateEmails(ctx context.Context) (map[string][]*identity.Record, error) {
	return map[string][]*identity.Record{}, nil
}

func (m *memoryIdentities) ReparentDependents(ctx context.Context, fromID, toID string) error {
	return nil
}

func (m *memoryIdentities) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memoryIdentities) CountTotal(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *memoryIdentities) CountMigrated(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	migrated := 0
	for _, record := range m.records {
		if record.IsMigrated() {
			migrated++
		}
	}
	return migrated, nil
}

// memoryMigrationLog is an in-memory identity.MigrationLog.
type memoryMigrationLog struct {
	mu      sync.Mutex
	entries []*identity.MigrationEntry
	nextID  int
}

func newMemoryMigrationLog() *memoryMigrationLog {
	return &memoryMigrationLog{}
}

func (m *memoryMigrationLog) Enqueue(ctx context.Context, identityID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.IdentityID == identityID {
			return nil
		}
	}
	m.nextID++
	m.entries = append(m.entries, &identity.MigrationEntry{
		ID:         "entry-" + identityID,
		IdentityID: identityID,
		Email:      email,
		Status:     identity.MigrationPending,
		QueuedAt:   time.Now(),
	})
	return nil
}

func (m *memoryMigrationLog) SelectPending(ctx context.Context, limit int) ([]*identity.MigrationEntry, error) {
	return m.selectByStatus(identity.MigrationPending, limit), nil
}

func (m *memoryMigrationLog) SelectFailed(ctx context.Context) ([]*identity.MigrationEntry, error) {
	return m.selectByStatus(identity.MigrationFailed, len(m.entries)), nil
}

func (m *memoryMigrationLog) selectByStatus(status identity.MigrationStatus, limit int) []*identity.MigrationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var selected []*identity.MigrationEntry
	for _, entry := range m.entries {
		if entry.Status == status && len(selected) < limit {
			clone := *entry
			selected = append(selected, &clone)
		}
	}
	return selected
}

func (m *memoryMigrationLog) FindByIdentity(ctx context.Context, identityID string) (*identity.MigrationEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.IdentityID == identityID {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Migration entry")
}

func (m *memoryMigrationLog) MarkSuccess(ctx context.Context, entryID string, completedAt time.Time) error {
	return m.mark(entryID, identity.MigrationSuccess, nil, completedAt)
}

func (m *memoryMigrationLog) MarkFailed(ctx context.Context, entryID, message string, completedAt time.Time) error {
	return m.mark(entryID, identity.MigrationFailed, &message, completedAt)
}

func (m *memoryMigrationLog) mark(entryID string, status identity.MigrationStatus, message *string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.ID == entryID {
			entry.Status = status
			entry.Error = message
			entry.CompletedAt = &completedAt
			return nil
		}
	}
	return apperr.NotFound("Migration entry")
}

func (m *memoryMigrationLog) List(ctx context.Context, offset, limit int) ([]*identity.MigrationEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := len(m.entries)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]*identity.MigrationEntry, 0, end-offset)
	for _, entry := range m.entries[offset:end] {
		clone := *entry
		page = append(page, &clone)
	}
	return page, total, nil
}

func (m *memoryMigrationLog) CountByStatus(ctx context.Context) (map[identity.MigrationStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[identity.MigrationStatus]int)
	for _, entry := range m.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (m *memoryMigrationLog) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*identity.MigrationEntry
	removed := 0
	for _, entry := range m.entries {
		terminal := entry.Status != identity.MigrationPending
		if terminal && entry.CompletedAt != nil && entry.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.entries = kept
	return removed, nil
}
