// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"coord-service/internal/models"
)

// MemoryAccountStore keeps account records in a map. It follows the same
// error contract as the Scylla repository.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[int64]models.Account
	reads    int

	// AfterPending runs once a pending scan has been taken, letting tests
	// interleave writes before the flags are cleared.
	AfterPending func()
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[int64]models.Account)}
}

// Put stores acct as-is.
func (m *MemoryAccountStore) Put(acct models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.UserID] = acct
}

// Snapshot returns a copy of the stored record.
func (m *MemoryAccountStore) Snapshot(userID int64) (models.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	return acct, ok
}

// Reads counts FindByID calls.
func (m *MemoryAccountStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MemoryAccountStore) FindByID(_ context.Context, userID int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &acct, nil
}

func (m *MemoryAccountStore) Create(_ context.Context, acct *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acct.UserID]; ok {
		return models.ErrAccountExists
	}
	m.accounts[acct.UserID] = *acct
	return nil
}

func (m *MemoryAccountStore) AcceptTerms(_ context.Context, userID int64, at time.Time) error {
	return m.update(userID, func(a *models.Account) { a.TermsAcceptedAt = &at })
}

func (m *MemoryAccountStore) SetSuspension(_ context.Context, userID int64, suspended bool, reason *string) error {
	return m.update(userID, func(a *models.Account) {
		a.Suspended = suspended
		a.SuspensionReason = reason
	})
}

func (m *MemoryAccountStore) RecordVote(_ context.Context, userID int64, at time.Time) error {
	return m.update(userID, func(a *models.Account) {
		a.LastVoted = &at
		a.NeedVoteReminder = true
	})
}

func (m *MemoryAccountStore) PendingReminders(_ context.Context, cutoff time.Time) ([]int64, error) {
	m.mu.Lock()
	var ids []int64
	for id, acct := range m.accounts {
		if acct.ReminderDue(cutoff) {
			ids = append(ids, id)
		}
	}
	hook := m.AfterPending
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if hook != nil {
		hook()
	}
	return ids, nil
}

func (m *MemoryAccountStore) ClearReminders(_ context.Context, userIDs []int64, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cleared := 0
	for _, id := range userIDs {
		acct, ok := m.accounts[id]
		if !ok || !acct.ReminderDue(cutoff) {
			continue
		}
		acct.NeedVoteReminder = false
		m.accounts[id] = acct
		cleared++
	}
	return cleared, nil
}

func (m *MemoryAccountStore) EstimatedCount(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.accounts)), nil
}

func (m *MemoryAccountStore) update(userID int64, fn func(*models.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return models.ErrAccountNotFound
	}
	fn(&acct)
	m.accounts[userID] = acct
	return nil
}
