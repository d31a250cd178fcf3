package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coord-service/internal/audit"
	"coord-service/internal/authz"
	"coord-service/internal/metrics"
	"coord-service/internal/models"
	"coord-service/internal/platform"
	"coord-service/internal/ratelimit"
	"coord-service/internal/util"
)

const hourglass = "⌛"

// Status is how one dispatch ended.
type Status int

const (
	StatusIgnored Status = iota
	StatusRateLimited
	StatusBlocked
	StatusPrompted
	StatusRan
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRateLimited:
		return "rate_limited"
	case StatusBlocked:
		return "blocked"
	case StatusPrompted:
		return "prompted"
	case StatusRan:
		return "ran"
	case StatusFailed:
		return "failed"
	default:
		return "ignored"
	}
}

type Result struct {
	Status     Status
	Command    string
	Decision   authz.Decision
	RetryAfter time.Duration
	Err        error
}

type Authorizer interface {
	Authorize(ctx context.Context, inv models.Invocation, requiresStarted bool) (authz.Decision, error)
}

type Dispatcher struct {
	registry   *Registry
	limiter    ratelimit.Limiter
	scope      string
	authorizer Authorizer
	responder  platform.Responder
	recorder   *audit.Recorder
	metrics    *metrics.Metrics
	cluster    string
	logger     *zap.Logger
	now        func() time.Time
}

type DispatcherConfig struct {
	Scope   string
	Cluster string
}

func NewDispatcher(cfg DispatcherConfig, registry *Registry, limiter ratelimit.Limiter, authorizer Authorizer, responder platform.Responder, recorder *audit.Recorder, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		limiter:    limiter,
		scope:      cfg.Scope,
		authorizer: authorizer,
		responder:  responder,
		recorder:   recorder,
		metrics:    m,
		cluster:    cfg.Cluster,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs inv through the limiter, the authorization pipeline and the
// command body, and maps every failure to a user response.
func (d *Dispatcher) Dispatch(ctx context.Context, inv models.Invocation) Result {
	if inv.Edited {
		inv.Content = util.NormalizeEditedContent(inv.Content)
	}

	name, args := util.TrimCommand(inv.Body())
	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return Result{Status: StatusIgnored}
	}
	res := Result{Command: cmd.Name}

	if !cmd.RateLimitExempt {
		decision, err := d.limiter.Check(ctx, inv.UserID, d.scope)
		if err != nil {
			d.logger.Warn("Rate limiter unavailable, allowing", zap.Int64("user_id", inv.UserID), zap.Error(err))
		}
		if !decision.Allowed {
			d.logger.Info("Command cooldown hit",
				zap.Int64("user_id", inv.UserID),
				zap.String("user", inv.UserName))
			d.metrics.RateLimited(ctx, d.scope)
			d.respond(d.responder.React(ctx, inv, hourglass))
			res.Status = StatusRateLimited
			res.RetryAfter = decision.RetryAfter
			return res
		}
	}

	decision, err := d.authorizer.Authorize(ctx, inv, cmd.RequiresStarted)
	if err != nil {
		d.logger.Error("Authorization failed", zap.String("command", cmd.Name), zap.Error(err))
		res.Status = StatusFailed
		res.Err = err
		return res
	}
	res.Decision = decision
	d.metrics.AuthzDecision(ctx, decision.Outcome.String(), decision.Kind.String())

	switch decision.Outcome {
	case authz.Blocked:
		d.respondBlocked(ctx, inv, decision)
		res.Status = StatusBlocked
		return res
	case authz.Prompted:
		// The pipeline already showed its own prompt.
		res.Status = StatusPrompted
		return res
	}

	if d.recorder != nil {
		d.recorder.Record(ctx, audit.NewEvent(uuid.NewString(), d.cluster, cmd.Name, inv, d.now()))
	}

	cctx := &Context{Invocation: inv, Name: name, Args: args, Responder: d.responder}
	if err := cmd.Run(ctx, cctx); err != nil {
		res.Err = err
		res.Status = StatusFailed
		d.respondRunError(ctx, inv, cmd, err)
		return res
	}
	res.Status = StatusRan
	return res
}

func (d *Dispatcher) respondBlocked(ctx context.Context, inv models.Invocation, decision authz.Decision) {
	switch decision.Kind {
	case authz.KindNotStarted:
		d.respond(d.responder.Reply(ctx, inv, decision.Hint))
	case authz.KindSuspended:
		reason := "No reason provided"
		if decision.Reason != nil && *decision.Reason != "" {
			reason = *decision.Reason
		}
		d.respond(d.responder.ReplyNotice(ctx, inv, platform.Notice{
			Title: "Account Suspended",
			Description: "Your account was found to be in violation of Pokétwo rules and has been permanently " +
				"blacklisted from using the bot. If you would like to appeal, " +
				"[click here](https://forms.poketwo.net/a/suspension-appeal).",
			Fields: []platform.Field{{Name: "Reason", Value: reason}},
		}))
	}
}

func (d *Dispatcher) respondRunError(ctx context.Context, inv models.Invocation, cmd *Command, err error) {
	var userErr *UserError
	switch {
	case errors.As(err, &userErr):
		d.respond(d.responder.Reply(ctx, inv, userErr.Message))
	case errors.Is(err, ErrMissingArgument):
		d.respond(d.responder.Reply(ctx, inv, "Usage: `"+inv.Prefix+cmd.Usage+"`"))
	default:
		d.logger.Error("Ignoring exception in command",
			zap.String("command", cmd.Name),
			zap.Int64("user_id", inv.UserID),
			zap.Error(err))
	}
}

func (d *Dispatcher) respond(err error) {
	if err != nil {
		d.logger.Warn("Failed to respond to invocation", zap.Error(err))
	}
}
