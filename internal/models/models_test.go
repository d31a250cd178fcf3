package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGlobalStats_AverageLatency(t *testing.T) {
	g := GlobalStats{Guilds: 30, Shards: 5, Latency: 10}
	assert.Equal(t, 2*time.Second, g.AverageLatency())
	assert.Equal(t, time.Duration(0), GlobalStats{}.AverageLatency())
}

func TestAccount_ReminderDue(t *testing.T) {
	now := time.Now()
	old := now.Add(-13 * time.Hour)
	recent := now.Add(-time.Hour)
	cutoff := now.Add(-12 * time.Hour)

	assert.True(t, (&Account{NeedVoteReminder: true, LastVoted: &old}).ReminderDue(cutoff))
	assert.False(t, (&Account{NeedVoteReminder: true, LastVoted: &recent}).ReminderDue(cutoff))
	assert.False(t, (&Account{NeedVoteReminder: false, LastVoted: &old}).ReminderDue(cutoff))
	assert.False(t, (&Account{NeedVoteReminder: true}).ReminderDue(cutoff))
}

func TestInvocation_Body(t *testing.T) {
	inv := Invocation{Prefix: "<@123> ", Content: "<@123> pick bulbasaur"}
	assert.Equal(t, "pick bulbasaur", inv.Body())

	inv = Invocation{Prefix: "p!", Content: "other"}
	assert.Equal(t, "other", inv.Body())
}
