// Package platform declares what the coordination core needs from the chat
// platform connection and implements it against the gateway sidecar.
package platform

import (
	"context"
	"errors"
	"time"

	"coord-service/internal/models"
)

// ErrUnreachable means the recipient cannot be reached from this cluster.
var ErrUnreachable = errors.New("recipient not reachable from this cluster")

// Choice is the user's answer to a confirmation prompt.
type Choice int

const (
	ChoiceTimeout Choice = iota
	ChoiceAccepted
	ChoiceDeclined
)

func (c Choice) String() string {
	switch c {
	case ChoiceAccepted:
		return "accepted"
	case ChoiceDeclined:
		return "declined"
	default:
		return "timeout"
	}
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notice is a rich message. The gateway decides how to render it.
type Notice struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Footer      string  `json:"footer,omitempty"`
	AuthorName  string  `json:"author_name,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// ShardStatus is the live state of the shards this cluster owns. Latencies
// are per shard, in seconds.
type ShardStatus struct {
	Guilds    int64     `json:"guilds"`
	Shards    int64     `json:"shards"`
	Latencies []float64 `json:"latencies"`
}

type Messenger interface {
	SendDirect(ctx context.Context, userID int64, content string) error
}

// Responder answers in the channel an invocation came from.
type Responder interface {
	Reply(ctx context.Context, inv models.Invocation, content string) error
	ReplyNotice(ctx context.Context, inv models.Invocation, notice Notice) error
	React(ctx context.Context, inv models.Invocation, emoji string) error
}

// Prompter shows an accept/decline control and blocks until the invoking
// user answers or timeout passes.
type Prompter interface {
	Confirm(ctx context.Context, inv models.Invocation, notice Notice, timeout time.Duration) (Choice, error)
}

type StatusSource interface {
	Status(ctx context.Context) (ShardStatus, error)
}
