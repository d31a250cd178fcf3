// Package authz decides whether an invocation may run, based on the invoking
// user's account. Stages run in a fixed order and the first one that does not
// pass decides.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"coord-service/internal/models"
	"coord-service/internal/platform"
)

const (
	StageExistence  = "existence"
	StageSuspension = "suspension"
	StageTerms      = "terms"
	StagePrefix     = "prefix"
)

// Accounts is the account lookup the pipeline reads and the one write it
// performs when updated terms are accepted.
type Accounts interface {
	Find(ctx context.Context, userID int64) (*models.Account, error)
	AcceptTerms(ctx context.Context, userID int64) error
}

// PromptGuard lets one caller claim a key for ttl.
type PromptGuard interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Config struct {
	BotUserID         int64
	OnboardingCommand string
	PromptTimeout     time.Duration
	PromptDedupTTL    time.Duration
	TermsURL          string
}

type stage struct {
	name string
	run  func(ctx context.Context, ev *evaluation) (Decision, bool)
}

// evaluation is the per-invocation state shared by the stages. The account is
// loaded once before the first stage runs.
type evaluation struct {
	inv             models.Invocation
	requiresStarted bool
	account         *models.Account
}

type Pipeline struct {
	cfg       Config
	accounts  Accounts
	prompter  platform.Prompter
	responder platform.Responder
	guard     PromptGuard
	logger    *zap.Logger

	stages  []stage
	pending sync.WaitGroup
}

func NewPipeline(cfg Config, accounts Accounts, prompter platform.Prompter, responder platform.Responder, guard PromptGuard, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		accounts:  accounts,
		prompter:  prompter,
		responder: responder,
		guard:     guard,
		logger:    logger,
	}
	p.stages = []stage{
		{name: StageExistence, run: p.checkExistence},
		{name: StageSuspension, run: p.checkSuspension},
		{name: StageTerms, run: p.checkTerms},
		{name: StagePrefix, run: p.checkPrefix},
	}
	return p
}

// Authorize runs every stage for inv. Only a failed account lookup returns an
// error; every other outcome is a Decision. Running it again for the same
// invocation and an unchanged account yields the same Decision.
func (p *Pipeline) Authorize(ctx context.Context, inv models.Invocation, requiresStarted bool) (Decision, error) {
	acct, err := p.accounts.Find(ctx, inv.UserID)
	if err != nil && !errors.Is(err, models.ErrAccountNotFound) {
		return Decision{}, fmt.Errorf("failed to load account for authorization: %w", err)
	}

	ev := &evaluation{inv: inv, requiresStarted: requiresStarted, account: acct}
	for _, s := range p.stages {
		if d, stop := s.run(ctx, ev); stop {
			if d.Outcome != Proceed {
				d.Stage = s.name
			}
			return d, nil
		}
	}
	return proceed(), nil
}

// Wait blocks until every detached terms prompt has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

func (p *Pipeline) checkExistence(_ context.Context, ev *evaluation) (Decision, bool) {
	if ev.account != nil {
		return Decision{}, false
	}
	if !ev.requiresStarted {
		// The remaining stages only apply to registered users.
		return proceed(), true
	}
	return Decision{
		Outcome: Blocked,
		Kind:    KindNotStarted,
		Hint: fmt.Sprintf("Please pick a starter pokémon by typing `%s%s` before using this command!",
			ev.inv.Prefix, p.cfg.OnboardingCommand),
	}, true
}

func (p *Pipeline) checkSuspension(_ context.Context, ev *evaluation) (Decision, bool) {
	if !ev.account.Suspended {
		return Decision{}, false
	}
	return Decision{Outcome: Blocked, Kind: KindSuspended, Reason: ev.account.SuspensionReason}, true
}

func (p *Pipeline) checkTerms(ctx context.Context, ev *evaluation) (Decision, bool) {
	if ev.account.HasAcceptedTerms() {
		return Decision{}, false
	}

	if p.claimPrompt(ctx, "tos:", ev.inv) {
		p.pending.Add(1)
		go p.awaitTerms(context.WithoutCancel(ctx), ev.inv)
	}
	return Decision{Outcome: Prompted, Kind: KindTermsNotAccepted}, true
}

func (p *Pipeline) checkPrefix(ctx context.Context, ev *evaluation) (Decision, bool) {
	if p.isMentionPrefix(ev.inv.Prefix) {
		return Decision{}, false
	}

	if p.claimPrompt(ctx, "prefix:", ev.inv) {
		if err := p.responder.ReplyNotice(ctx, ev.inv, p.prefixNotice(ev.inv)); err != nil {
			p.logger.Warn("Failed to send mention prefix notice",
				zap.Int64("user_id", ev.inv.UserID),
				zap.Error(err))
		}
	}
	return Decision{Outcome: Prompted, Kind: KindPrefixModeRequired}, true
}

// awaitTerms runs after the invocation has been answered. An accepted prompt
// records the acceptance so the user's next invocation gets through.
func (p *Pipeline) awaitTerms(ctx context.Context, inv models.Invocation) {
	defer p.pending.Done()

	choice, err := p.prompter.Confirm(ctx, inv, p.termsNotice(inv), p.cfg.PromptTimeout)
	if err != nil {
		p.logger.Warn("Terms prompt failed", zap.Int64("user_id", inv.UserID), zap.Error(err))
		return
	}
	if choice != platform.ChoiceAccepted {
		p.logger.Debug("Terms prompt not accepted",
			zap.Int64("user_id", inv.UserID),
			zap.String("choice", choice.String()))
		return
	}
	if err := p.accounts.AcceptTerms(ctx, inv.UserID); err != nil {
		p.logger.Error("Failed to record terms acceptance", zap.Int64("user_id", inv.UserID), zap.Error(err))
		return
	}
	p.logger.Info("Updated terms accepted", zap.Int64("user_id", inv.UserID))
}

// claimPrompt reports whether this delivery of inv should send the prompt.
// Redelivered invocations find the key taken. Guard errors fail open.
func (p *Pipeline) claimPrompt(ctx context.Context, prefix string, inv models.Invocation) bool {
	if p.guard == nil || inv.ID == "" {
		return true
	}
	ok, err := p.guard.AcquireLock(ctx, "prompt:"+prefix+inv.ID, p.cfg.PromptDedupTTL)
	if err != nil {
		p.logger.Warn("Prompt guard unavailable", zap.String("invocation_id", inv.ID), zap.Error(err))
		return true
	}
	return ok
}

func (p *Pipeline) isMentionPrefix(prefix string) bool {
	id := strconv.FormatInt(p.cfg.BotUserID, 10)
	switch prefix {
	case "<@" + id + "> ", "<@!" + id + "> ", "<@" + id + ">", "<@!" + id + ">":
		return true
	}
	return false
}

func (p *Pipeline) mention() string {
	return "<@" + strconv.FormatInt(p.cfg.BotUserID, 10) + ">"
}

func (p *Pipeline) termsNotice(inv models.Invocation) platform.Notice {
	return platform.Notice{
		Title: "Updated Terms of Service",
		Description: "Please read, understand, and accept our new Terms of Service to continue. " +
			"Violations of these Terms may result in the suspension of your account. " +
			"If you choose not to accept the new user terms, you will no longer be able to use Pokétwo.",
		AuthorName: inv.UserName,
		Footer:     "These Terms can also be found on our website at " + p.cfg.TermsURL + ".",
	}
}

func (p *Pipeline) prefixNotice(inv models.Invocation) platform.Notice {
	return platform.Notice{
		Title: "Mention Prefix Now Required",
		Description: "Due to limitations imposed by Discord, Pokétwo commands must be used with the mention prefix (" +
			p.mention() + ").",
		URL:        p.cfg.TermsURL,
		AuthorName: inv.UserName,
		Fields: []platform.Field{{
			Name:  "Please re-run the command with the mention prefix to continue:",
			Value: p.mention() + " " + inv.Body(),
		}},
	}
}
