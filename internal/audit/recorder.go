// Package audit records every command that ran and ships the record to the
// configured sinks.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"coord-service/internal/models"
)

// Event is one command run.
type Event struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Cluster      string    `json:"cluster"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	UserName     string    `json:"user"`
	GuildID      int64     `json:"guild_id,omitempty"`
	ChannelID    int64     `json:"channel_id"`
	Content      string    `json:"content"`
	At           time.Time `json:"at"`
}

// NewEvent builds the event for inv running command.
func NewEvent(id, cluster, command string, inv models.Invocation, at time.Time) Event {
	return Event{
		ID:           id,
		InvocationID: inv.ID,
		Cluster:      cluster,
		Command:      command,
		UserID:       inv.UserID,
		UserName:     inv.UserName,
		GuildID:      inv.GuildID,
		ChannelID:    inv.ChannelID,
		Content:      inv.Content,
		At:           at,
	}
}

type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Recorder logs each event and writes it to every sink in the background.
// Sink failures are logged and never reach the caller.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewRecorder(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, timeout: timeout, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, ev Event) {
	r.logger.Info("Command run",
		zap.Int64("guild_id", ev.GuildID),
		zap.Int64("channel_id", ev.ChannelID),
		zap.Int64("user_id", ev.UserID),
		zap.String("user", ev.UserName),
		zap.String("command", ev.Command),
		zap.String("content", ev.Content))

	detached := context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		r.wg.Add(1)
		go func(sink Sink) {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(detached, r.timeout)
			defer cancel()
			if err := sink.Write(ctx, ev); err != nil {
				r.logger.Warn("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_id", ev.ID),
					zap.Error(err))
			}
		}(sink)
	}
}

// Wait blocks until every pending sink write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
