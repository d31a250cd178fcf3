// Package command parses invocations, runs them through the rate limiter and
// the authorization pipeline, and executes the matching command.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"coord-service/internal/models"
	"coord-service/internal/platform"
)

var (
	ErrDuplicateCommand = errors.New("command already registered")
	// ErrMissingArgument makes the dispatcher answer with the command's usage.
	ErrMissingArgument = errors.New("missing required argument")
)

// UserError is shown to the invoking user verbatim.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func userError(format string, args ...interface{}) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// Context is what a command body sees of its invocation.
type Context struct {
	Invocation models.Invocation
	Name       string
	Args       string
	Responder  platform.Responder
}

func (c *Context) Reply(ctx context.Context, content string) error {
	return c.Responder.Reply(ctx, c.Invocation, content)
}

func (c *Context) ReplyNotice(ctx context.Context, notice platform.Notice) error {
	return c.Responder.ReplyNotice(ctx, c.Invocation, notice)
}

// Prefix is the address form the user typed, for echoing in hints.
func (c *Context) Prefix() string {
	return c.Invocation.Prefix
}

type Command struct {
	Name            string
	Aliases         []string
	Usage           string
	Help            string
	RequiresStarted bool
	RateLimitExempt bool
	Run             func(ctx context.Context, c *Context) error
}

type Registry struct {
	byName map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Register adds cmd under its name and every alias.
func (r *Registry) Register(cmd *Command) error {
	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, n := range names {
		if _, ok := r.byName[strings.ToLower(n)]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, n)
		}
	}
	for _, n := range names {
		r.byName[strings.ToLower(n)] = cmd
	}
	return nil
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// Commands lists each command once, sorted by name.
func (r *Registry) Commands() []*Command {
	seen := make(map[*Command]bool)
	var out []*Command
	for _, cmd := range r.byName {
		if !seen[cmd] {
			seen[cmd] = true
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
