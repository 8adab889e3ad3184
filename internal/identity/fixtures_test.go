// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package identity_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/savorahq/savora/internal/identity"
	"github.com/savorahq/savora/internal/platform/apperr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepository is an in-memory identity.Repository that records the
// merge-sensitive calls (reparent, delete) for assertions.
type fakeRepository struct {
	mu      sync.Mutex
	records map[string]*identity.Record

	duplicateGroups map[string][]*identity.Record
	reparented      [][2]string
	deleted         []string
}

func newFakeRepository(records ...*identity.Record) *fakeRepository {
	repo := &fakeRepository{
		records:         make(map[string]*identity.Record),
		duplicateGroups: map[string][]*identity.Record{},
	}
	for _, record := range records {
		clone := *record
		repo.records[record.ID] = &clone
	}
	return repo
}

func (r *fakeRepository) Create(ctx context.Context, record *identity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *fakeRepository) FindByID(ctx context.Context, id string) (*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, found := r.records[id]; found {
		clone := *record
		return &clone, nil
	}
	return nil, apperr.NotFound("Identity")
}

func (r *fakeRepository) FindByEmail(ctx context.Context, email string) (*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.Email == email {
			clone := *record
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Identity")
}

func (r *fakeRepository) FindByExternalID(ctx context.Context, externalID string) (*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ExternalID != nil && *record.ExternalID == externalID {
			clone := *record
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Identity")
}

func (r *fakeRepository) ListUnmigrated(ctx context.Context, limit int) ([]*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, record := range r.records {
		if !record.IsMigrated() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var selected []*identity.Record
	for _, id := range ids {
		if len(selected) >= limit {
			break
		}
		clone := *r.records[id]
		selected = append(selected, &clone)
	}
	return selected, nil
}

func (r *fakeRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, found := r.records[id]
	if !found {
		return apperr.NotFound("Identity")
	}
	record.ExternalID = &externalID
	return nil
}

func (r *fakeRepository) UpdateEmail(ctx context.Context, id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, found := r.records[id]
	if !found {
		return apperr.NotFound("Identity")
	}
	record.Email = email
	return nil
}

func (r *fakeRepository) ScrubPasswordHashes(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scrubbed := 0
	for _, record := range r.records {
		if record.IsMigrated() && record.PasswordHash != nil {
			record.PasswordHash = nil
			scrubbed++
		}
	}
	return scrubbed, nil
}

func (r *fakeRepository) ListDuplicateEmails(ctx context.Context) (map[string][]*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicateGroups, nil
}

func (r *fakeRepository) ReparentDependents(ctx context.Context, fromID, toID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reparented = append(r.reparented, [2]string{fromID, toID})
	return nil
}

func (r *fakeRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeRepository) CountTotal(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), nil
}

func (r *fakeRepository) CountMigrated(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	migrated := 0
	for _, record := range r.records {
		if record.IsMigrated() {
			migrated++
		}
	}
	return migrated, nil
}

// fakeLog is an in-memory identity.MigrationLog.
type fakeLog struct {
	mu      sync.Mutex
	entries []*identity.MigrationEntry
}

func newFakeLog() *fakeLog { return &fakeLog{} }

func (l *fakeLog) Enqueue(ctx context.Context, identityID, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.IdentityID == identityID {
			return nil
		}
	}
	l.entries = append(l.entries, &identity.MigrationEntry{
		ID:         fmt.Sprintf("entry-%d", len(l.entries)+1),
		IdentityID: identityID,
		Email:      email,
		Status:     identity.MigrationPending,
		QueuedAt:   time.Now(),
	})
	return nil
}

func (l *fakeLog) SelectPending(ctx context.Context, limit int) ([]*identity.MigrationEntry, error) {
	return l.selectByStatus(identity.MigrationPending, limit), nil
}

func (l *fakeLog) SelectFailed(ctx context.Context) ([]*identity.MigrationEntry, error) {
	return l.selectByStatus(identity.MigrationFailed, len(l.entries)), nil
}

func (l *fakeLog) selectByStatus(status identity.MigrationStatus, limit int) []*identity.MigrationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var selected []*identity.MigrationEntry
	for _, entry := range l.entries {
		if entry.Status == status && len(selected) < limit {
			clone := *entry
			selected = append(selected, &clone)
		}
	}
	return selected
}

func (l *fakeLog) FindByIdentity(ctx context.Context, identityID string) (*identity.MigrationEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.IdentityID == identityID {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("Migration entry")
}

func (l *fakeLog) MarkSuccess(ctx context.Context, entryID string, completedAt time.Time) error {
	return l.mark(entryID, identity.MigrationSuccess, nil, completedAt)
}

func (l *fakeLog) MarkFailed(ctx context.Context, entryID, message string, completedAt time.Time) error {
	return l.mark(entryID, identity.MigrationFailed, &message, completedAt)
}

func (l *fakeLog) mark(entryID string, status identity.MigrationStatus, message *string, completedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.ID == entryID {
			entry.Status = status
			entry.Error = message
			entry.CompletedAt = &completedAt
			return nil
		}
	}
	return apperr.NotFound("Migration entry")
}

func (l *fakeLog) List(ctx context.Context, offset, limit int) ([]*identity.MigrationEntry, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := len(l.entries)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := make([]*identity.MigrationEntry, 0, end-offset)
	for _, entry := range l.entries[offset:end] {
		clone := *entry
		page = append(page, &clone)
	}
	return page, total, nil
}

func (l *fakeLog) CountByStatus(ctx context.Context) (map[identity.MigrationStatus]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[identity.MigrationStatus]int)
	for _, entry := range l.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (l *fakeLog) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kept []*identity.MigrationEntry
	removed := 0
	for _, entry := range l.entries {
		terminal := entry.Status != identity.MigrationPending
		if terminal && entry.CompletedAt != nil && entry.CompletedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	l.entries = kept
	return removed, nil
}

// entryStatus reads one entry's status without copying the whole log.
func (l *fakeLog) entryStatus(identityID string) (identity.MigrationStatus, *string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.IdentityID == identityID {
			return entry.Status, entry.Error
		}
	}
	return "", nil
}

// fakeDirectory is an in-memory provider directory with per-email failure
// injection.
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]*identity.ExternalAccount
	failFor  map[string]error

	createCalls int
	findCalls   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		accounts: make(map[string]*identity.ExternalAccount),
		failFor:  make(map[string]error),
	}
}

func (d *fakeDirectory) CreateUser(ctx context.Context, email, password string) (*identity.ExternalAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createCalls++
	if err, found := d.failFor[email]; found {
		return nil, err
	}
	account := &identity.ExternalAccount{ID: "ext-" + email, Email: email}
	d.accounts[email] = account
	return account, nil
}

func (d *fakeDirectory) FindUserByEmail(ctx context.Context, email string) (*identity.ExternalAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.findCalls++
	if account, found := d.accounts[email]; found {
		return account, nil
	}
	return nil, apperr.NotFound("External identity")
}

// fakePurger is a canned identity.SessionPurger.
type fakePurger struct {
	purged     int
	nearExpiry int
	purgeCalls int
}

func (p *fakePurger) PurgeMigrated(ctx context.Context) (int, error) {
	p.purgeCalls++
	return p.purged, nil
}

func (p *fakePurger) CountActiveNearExpiry(ctx context.Context, window time.Duration) (int, error) {
	return p.nearExpiry, nil
}
