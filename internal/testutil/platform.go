package testutil

import (
	"context"
	"sync"
	"time"

	"coord-service/internal/models"
	"coord-service/internal/platform"
)

// Responder records everything sent back to the invoking channel.
type Responder struct {
	mu        sync.Mutex
	Replies   []string
	Notices   []platform.Notice
	Reactions []string
	Err       error
}

func (r *Responder) Reply(_ context.Context, _ models.Invocation, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Replies = append(r.Replies, content)
	return r.Err
}

func (r *Responder) ReplyNotice(_ context.Context, _ models.Invocation, notice platform.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, notice)
	return r.Err
}

func (r *Responder) React(_ context.Context, _ models.Invocation, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reactions = append(r.Reactions, emoji)
	return r.Err
}

// Sent returns how many replies, notices and reactions were recorded.
func (r *Responder) Sent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Replies) + len(r.Notices) + len(r.Reactions)
}

// Prompter answers every confirmation with Choice.
type Prompter struct {
	mu      sync.Mutex
	Choice  platform.Choice
	Err     error
	Prompts []platform.Notice
}

func (p *Prompter) Confirm(_ context.Context, _ models.Invocation, notice platform.Notice, _ time.Duration) (platform.Choice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prompts = append(p.Prompts, notice)
	return p.Choice, p.Err
}

func (p *Prompter) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Prompts)
}

// Messenger records direct messages. Users listed in Unreachable get
// platform.ErrUnreachable.
type Messenger struct {
	mu          sync.Mutex
	Sent        map[int64][]string
	Unreachable map[int64]bool
	Delay       time.Duration
}

func NewMessenger() *Messenger {
	return &Messenger{Sent: make(map[int64][]string), Unreachable: make(map[int64]bool)}
}

func (m *Messenger) SendDirect(ctx context.Context, userID int64, content string) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unreachable[userID] {
		return platform.ErrUnreachable
	}
	m.Sent[userID] = append(m.Sent[userID], content)
	return nil
}

// Messages returns a copy of what userID received.
func (m *Messenger) Messages(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Sent[userID]...)
}
