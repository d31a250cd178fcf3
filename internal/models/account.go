package models

import "time"

// Account is the per-user record gating command execution. A user "has
// started" exactly when a record exists.
type Account struct {
	UserBucket       int        `db:"user_bucket" json:"-"`
	UserID           int64      `db:"user_id" json:"id"`
	Suspended        bool       `db:"suspended" json:"suspended"`
	SuspensionReason *string    `db:"suspension_reason" json:"suspension_reason,omitempty"`
	TermsAcceptedAt  *time.Time `db:"tos" json:"tos,omitempty"`
	NeedVoteReminder bool       `db:"need_vote_reminder" json:"need_vote_reminder"`
	LastVoted        *time.Time `db:"last_voted" json:"last_voted,omitempty"`
	JoinedAt         time.Time  `db:"joined_at" json:"joined_at"`
}

// HasAcceptedTerms reports whether the current terms were accepted.
func (a *Account) HasAcceptedTerms() bool {
	return a.TermsAcceptedAt != nil
}

// ReminderDue reports whether the account matches the pending reminder
// predicate at cutoff.
func (a *Account) ReminderDue(cutoff time.Time) bool {
	return a.NeedVoteReminder && a.LastVoted != nil && a.LastVoted.Before(cutoff)
}
