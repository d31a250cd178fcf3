package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"coord-service/internal/bucketing"
	"coord-service/internal/models"
	"coord-service/internal/util"
)

// AccountRepository stores account records partitioned by user bucket.
type AccountRepository struct {
	client       *ScyllaClient
	bucketingMgr *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager) *AccountRepository {
	return &AccountRepository{
		client:       client,
		bucketingMgr: bucketingMgr,
	}
}

func (r *AccountRepository) FindByID(ctx context.Context, userID int64) (*models.Account, error) {
	acct := &models.Account{}
	bucket := r.bucketingMgr.GetUserBucket(userID)

	query := r.client.Bind(ctx, r.client.Prepared.GetMemberByID, bucket, userID)
	err := r.client.ScanWithRetry(query,
		&acct.UserBucket, &acct.UserID, &acct.Suspended, &acct.SuspensionReason,
		&acct.TermsAcceptedAt, &acct.NeedVoteReminder, &acct.LastVoted, &acct.JoinedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, models.ErrAccountNotFound
		}
		util.Error("Failed to get account by ID",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// Create inserts acct unless a record already exists for the user.
func (r *AccountRepository) Create(ctx context.Context, acct *models.Account) error {
	acct.UserBucket = r.bucketingMgr.GetUserBucket(acct.UserID)
	if acct.JoinedAt.IsZero() {
		acct.JoinedAt = time.Now().UTC()
	}

	query := r.client.Bind(ctx, r.client.Prepared.CreateMember,
		acct.UserBucket, acct.UserID, acct.Suspended, acct.SuspensionReason,
		acct.TermsAcceptedAt, acct.NeedVoteReminder, acct.LastVoted, acct.JoinedAt)
	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create account",
			zap.Int64("user_id", acct.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}
	if !applied {
		return models.ErrAccountExists
	}

	if err := r.client.ExecuteWithRetry(r.client.Bind(ctx, r.client.Prepared.IncrementMembers), 2); err != nil {
		util.Warn("Failed to bump member count", zap.Int64("user_id", acct.UserID), zap.Error(err))
	}

	util.Info("Account created",
		zap.Int64("user_id", acct.UserID),
		zap.Int("user_bucket", acct.UserBucket))
	return nil
}

func (r *AccountRepository) AcceptTerms(ctx context.Context, userID int64, at time.Time) error {
	bucket := r.bucketingMgr.GetUserBucket(userID)
	return r.updateExisting(ctx, "accept terms", userID,
		r.client.Bind(ctx, r.client.Prepared.AcceptTerms, at, bucket, userID))
}

func (r *AccountRepository) SetSuspension(ctx context.Context, userID int64, suspended bool, reason *string) error {
	bucket := r.bucketingMgr.GetUserBucket(userID)
	return r.updateExisting(ctx, "set suspension", userID,
		r.client.Bind(ctx, r.client.Prepared.SetSuspension, suspended, reason, bucket, userID))
}

// RecordVote stamps the vote time and arms the reminder flag.
func (r *AccountRepository) RecordVote(ctx context.Context, userID int64, at time.Time) error {
	bucket := r.bucketingMgr.GetUserBucket(userID)
	return r.updateExisting(ctx, "record vote", userID,
		r.client.Bind(ctx, r.client.Prepared.RecordVote, at, bucket, userID))
}

func (r *AccountRepository) updateExisting(ctx context.Context, op string, userID int64, query *gocql.Query) error {
	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Account update failed",
			zap.String("op", op),
			zap.Int64("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if !applied {
		return models.ErrAccountNotFound
	}
	return nil
}

// PendingReminders returns ids with the reminder flag set whose last vote is
// older than cutoff, scanning bucket by bucket.
func (r *AccountRepository) PendingReminders(ctx context.Context, cutoff time.Time) ([]int64, error) {
	var ids []int64
	for bucket := 0; bucket < r.bucketingMgr.GetUserBuckets(); bucket++ {
		iter := r.client.Bind(ctx, r.client.Prepared.PendingReminders, bucket, cutoff).Iter()
		var id int64
		for iter.Scan(&id) {
			ids = append(ids, id)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to scan reminders in bucket %d: %w", bucket, err)
		}
	}
	return ids, nil
}

// ClearReminders unsets the reminder flag for userIDs that still match the
// pending predicate at cutoff. A user who voted again after the scan keeps
// the newly armed flag. Each row is a conditional update of its own since a
// conditional batch is applied all or nothing.
func (r *AccountRepository) ClearReminders(ctx context.Context, userIDs []int64, cutoff time.Time) (int, error) {
	cleared := 0
	for bucket, ids := range r.bucketingMgr.GroupByBucket(userIDs) {
		for _, id := range ids {
			query := r.client.Bind(ctx, r.client.Prepared.ClearReminder, bucket, id, cutoff)
			applied, err := query.MapScanCAS(map[string]interface{}{})
			if err != nil {
				util.Error("Failed to clear vote reminder",
					zap.Int("user_bucket", bucket),
					zap.Int64("user_id", id),
					zap.Error(err))
				return cleared, fmt.Errorf("failed to clear reminder in bucket %d: %w", bucket, err)
			}
			if applied {
				cleared++
			}
		}
	}
	return cleared, nil
}

// EstimatedCount reads the running member counter.
func (r *AccountRepository) EstimatedCount(ctx context.Context) (int64, error) {
	var total int64
	err := r.client.ScanWithRetry(r.client.Bind(ctx, r.client.Prepared.CountMembers), &total)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return total, nil
}

func (r *AccountRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}
