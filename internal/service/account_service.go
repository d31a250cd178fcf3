package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"coord-service/internal/models"
	"coord-service/internal/util"
)

var (
	ErrAccountNotFound = models.ErrAccountNotFound
	ErrAccountExists   = models.ErrAccountExists
)

// AccountStore is the durable account record store.
type AccountStore interface {
	FindByID(ctx context.Context, userID int64) (*models.Account, error)
	Create(ctx context.Context, acct *models.Account) error
	AcceptTerms(ctx context.Context, userID int64, at time.Time) error
	SetSuspension(ctx context.Context, userID int64, suspended bool, reason *string) error
	RecordVote(ctx context.Context, userID int64, at time.Time) error
	PendingReminders(ctx context.Context, cutoff time.Time) ([]int64, error)
	ClearReminders(ctx context.Context, userIDs []int64, cutoff time.Time) (int, error)
	EstimatedCount(ctx context.Context) (int64, error)
}

// AccountCache holds read-through copies of account records shared by every
// cluster.
type AccountCache interface {
	Get(ctx context.Context, userID int64) (*models.Account, bool, error)
	Set(ctx context.Context, acct *models.Account) error
	Invalidate(ctx context.Context, userIDs ...int64) error
}

// AccountService reads accounts through the cache and invalidates cached
// copies after every write.
type AccountService struct {
	store  AccountStore
	cache  AccountCache
	loads  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

func NewAccountService(store AccountStore, cache AccountCache) *AccountService {
	return &AccountService{
		store:  store,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
		logger: util.Named("accounts"),
	}
}

// Find returns the account for userID or ErrAccountNotFound. Concurrent
// misses for the same user share one store read.
func (s *AccountService) Find(ctx context.Context, userID int64) (*models.Account, error) {
	if s.cache != nil {
		acct, found, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("Account cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		} else if found {
			return acct, nil
		}
	}

	v, err, _ := s.loads.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		acct, err := s.store.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, acct); err != nil {
				s.logger.Warn("Account cache write failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
		return acct, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	acct := *v.(*models.Account)
	return &acct, nil
}

// Create registers userID. Registration happens only after the user
// accepted the terms, so the acceptance is stamped on the new record.
func (s *AccountService) Create(ctx context.Context, userID int64) (*models.Account, error) {
	now := s.now()
	acct := &models.Account{
		UserID:          userID,
		TermsAcceptedAt: &now,
		JoinedAt:        now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, models.ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	s.invalidate(ctx, userID)
	s.logger.Info("Account registered", zap.Int64("user_id", userID))
	return acct, nil
}

func (s *AccountService) AcceptTerms(ctx context.Context, userID int64) error {
	if err := s.store.AcceptTerms(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to accept terms: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Suspend blocks userID. An empty reason is stored as absent.
func (s *AccountService) Suspend(ctx context.Context, userID int64, reason string) error {
	var r *string
	if reason != "" {
		r = &reason
	}
	if err := s.store.SetSuspension(ctx, userID, true, r); err != nil {
		return fmt.Errorf("failed to suspend account: %w", err)
	}
	s.invalidate(ctx, userID)
	s.logger.Info("Account suspended", zap.Int64("user_id", userID), zap.String("reason", reason))
	return nil
}

func (s *AccountService) Unsuspend(ctx context.Context, userID int64) error {
	if err := s.store.SetSuspension(ctx, userID, false, nil); err != nil {
		return fmt.Errorf("failed to unsuspend account: %w", err)
	}
	s.invalidate(ctx, userID)
	s.logger.Info("Account unsuspended", zap.Int64("user_id", userID))
	return nil
}

// RecordVote stores a vote and arms the reminder for userID.
func (s *AccountService) RecordVote(ctx context.Context, userID int64) error {
	if err := s.store.RecordVote(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *AccountService) PendingReminders(ctx context.Context, cutoff time.Time) ([]int64, error) {
	return s.store.PendingReminders(ctx, cutoff)
}

// ClearReminders unsets the reminder flag for those of userIDs still due at
// cutoff and drops their cached copies.
func (s *AccountService) ClearReminders(ctx context.Context, userIDs []int64, cutoff time.Time) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	cleared, err := s.store.ClearReminders(ctx, userIDs, cutoff)
	if err != nil {
		return cleared, fmt.Errorf("failed to clear reminders: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
			return cleared, fmt.Errorf("failed to invalidate cleared accounts: %w", err)
		}
	}
	return cleared, nil
}

func (s *AccountService) EstimatedCount(ctx context.Context) (int64, error) {
	return s.store.EstimatedCount(ctx)
}

func (s *AccountService) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("Account cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
