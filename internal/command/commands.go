package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coord-service/internal/models"
	"coord-service/internal/platform"
)

// Accounts is the account surface the built-in commands need.
type Accounts interface {
	Find(ctx context.Context, userID int64) (*models.Account, error)
	Create(ctx context.Context, userID int64) (*models.Account, error)
	EstimatedCount(ctx context.Context) (int64, error)
}

type StatsSource interface {
	Rollup(ctx context.Context) (models.GlobalStats, error)
}

// Latency reports this cluster's gateway round trip for ping.
type Latency interface {
	Status(ctx context.Context) (platform.ShardStatus, error)
}

type starterGeneration struct {
	Name    string
	Species []string
}

var starterGenerations = []starterGeneration{
	{"Generation I (Kanto)", []string{"Bulbasaur", "Charmander", "Squirtle"}},
	{"Generation II (Johto)", []string{"Chikorita", "Cyndaquil", "Totodile"}},
	{"Generation III (Hoenn)", []string{"Treecko", "Torchic", "Mudkip"}},
	{"Generation IV (Sinnoh)", []string{"Turtwig", "Chimchar", "Piplup"}},
	{"Generation V (Unova)", []string{"Snivy", "Tepig", "Oshawott"}},
	{"Generation VI (Kalos)", []string{"Chespin", "Fennekin", "Froakie"}},
	{"Generation VII (Alola)", []string{"Rowlet", "Litten", "Popplio"}},
	{"Generation VIII (Galar)", []string{"Grookey", "Scorbunny", "Sobble"}},
	{"Generation IX (Paldea)", []string{"Sprigatito", "Fuecoco", "Quaxly"}},
}

func starterByName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, gen := range starterGenerations {
		for _, s := range gen.Species {
			if strings.EqualFold(s, name) {
				return s, true
			}
		}
	}
	return "", false
}

// Deps carries what the built-in commands read and write.
type Deps struct {
	Accounts      Accounts
	Stats         StatsSource
	Latency       Latency
	Prompter      platform.Prompter
	Registry      *Registry
	PromptTimeout time.Duration
	TermsURL      string
}

// RegisterBuiltins adds help, start, pick, profile, stats and ping.
func RegisterBuiltins(r *Registry, d Deps) error {
	d.Registry = r
	cmds := []*Command{
		{
			Name:            "help",
			Usage:           "help",
			Help:            "Show the available commands.",
			RateLimitExempt: true,
			Run:             d.help,
		},
		{
			Name:  "start",
			Usage: "start",
			Help:  "View the starter pokémon.",
			Run:   d.start,
		},
		{
			Name:  "pick",
			Usage: "pick <pokemon>",
			Help:  "Pick a starter pokémon to get started.",
			Run:   d.pick,
		},
		{
			Name:            "profile",
			Usage:           "profile",
			Help:            "View your profile.",
			RequiresStarted: true,
			Run:             d.profile,
		},
		{
			Name:    "stats",
			Aliases: []string{"botinfo"},
			Usage:   "stats",
			Help:    "View interesting statistics about the bot.",
			Run:     d.stats,
		},
		{
			Name:  "ping",
			Usage: "ping",
			Help:  "View the bot's latency.",
			Run:   d.ping,
		},
	}
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) help(ctx context.Context, c *Context) error {
	var b strings.Builder
	for _, cmd := range d.Registry.Commands() {
		fmt.Fprintf(&b, "`%s%s` %s\n", c.Prefix(), cmd.Usage, cmd.Help)
	}
	return c.ReplyNotice(ctx, platform.Notice{
		Title:       "Commands",
		Description: strings.TrimRight(b.String(), "\n"),
	})
}

func (d Deps) start(ctx context.Context, c *Context) error {
	notice := platform.Notice{
		Title:       "Welcome to the world of Pokémon!",
		Description: fmt.Sprintf("To start, choose one of the starter pokémon using the `%spick <pokemon>` command. ", c.Prefix()),
	}
	for _, gen := range starterGenerations {
		notice.Fields = append(notice.Fields, platform.Field{Name: gen.Name, Value: strings.Join(gen.Species, " · ")})
	}
	return c.ReplyNotice(ctx, notice)
}

func (d Deps) pick(ctx context.Context, c *Context) error {
	if strings.TrimSpace(c.Args) == "" {
		return ErrMissingArgument
	}

	_, err := d.Accounts.Find(ctx, c.Invocation.UserID)
	switch {
	case err == nil:
		return userError("You have already chosen a starter pokémon! View your pokémon with `%spokemon`.", c.Prefix())
	case !errors.Is(err, models.ErrAccountNotFound):
		return err
	}

	species, ok := starterByName(c.Args)
	if !ok {
		return userError("Please select one of the starter pokémon. To view them, type `%sstart`.", c.Prefix())
	}

	choice, err := d.Prompter.Confirm(ctx, c.Invocation, d.termsNotice(c.Invocation), d.PromptTimeout)
	if err != nil {
		return err
	}
	switch choice {
	case platform.ChoiceTimeout:
		return c.Reply(ctx, "Time's up. Aborted.")
	case platform.ChoiceDeclined:
		return c.Reply(ctx, "Since you chose not to accept the new user terms, we are unable to grant you access to Pokétwo.\n"+
			"If you wish to continue, please re-run the command and agree to our Terms of Service to continue.")
	}

	if _, err := d.Accounts.Create(ctx, c.Invocation.UserID); err != nil {
		if errors.Is(err, models.ErrAccountExists) {
			return userError("You have already chosen a starter pokémon! View your pokémon with `%spokemon`.", c.Prefix())
		}
		return err
	}
	return c.Reply(ctx, fmt.Sprintf("Congratulations on entering the world of pokémon! %s is your first pokémon. Type `%sinfo` to view it!", species, c.Prefix()))
}

func (d Deps) termsNotice(inv models.Invocation) platform.Notice {
	return platform.Notice{
		Title: "Pokétwo Terms of Service",
		Description: "Please read, understand, and accept our Terms of Service to continue. " +
			"Violations of these Terms may result in the suspension of your account. " +
			"If you choose not to accept the user terms, you will not be able to use Pokétwo.",
		URL:        d.TermsURL,
		AuthorName: inv.UserName,
		Footer:     "These Terms can also be found on our website at " + d.TermsURL + ".",
	}
}

func (d Deps) profile(ctx context.Context, c *Context) error {
	acct, err := d.Accounts.Find(ctx, c.Invocation.UserID)
	if err != nil {
		return err
	}
	notice := platform.Notice{
		Title:      "Trainer Profile",
		AuthorName: c.Invocation.UserName,
		Fields: []platform.Field{
			{Name: "Joined", Value: acct.JoinedAt.Format("2006-01-02")},
		},
	}
	if acct.LastVoted != nil {
		notice.Fields = append(notice.Fields, platform.Field{Name: "Last Voted", Value: acct.LastVoted.Format(time.RFC822)})
	}
	return c.ReplyNotice(ctx, notice)
}

func (d Deps) stats(ctx context.Context, c *Context) error {
	g, err := d.Stats.Rollup(ctx)
	if err != nil {
		return err
	}
	trainers, err := d.Accounts.EstimatedCount(ctx)
	if err != nil {
		return err
	}
	return c.ReplyNotice(ctx, platform.Notice{
		Title: "Pokétwo Statistics",
		Fields: []platform.Field{
			{Name: "Servers", Value: fmt.Sprint(g.Guilds)},
			{Name: "Shards", Value: fmt.Sprint(g.Shards)},
			{Name: "Trainers", Value: fmt.Sprint(trainers)},
			{Name: "Average Latency", Value: fmt.Sprintf("%d ms", g.AverageLatency().Milliseconds())},
		},
	})
}

func (d Deps) ping(ctx context.Context, c *Context) error {
	status, err := d.Latency.Status(ctx)
	if err != nil {
		return err
	}
	var sum float64
	for _, l := range status.Latencies {
		sum += l
	}
	var ms int64
	if n := len(status.Latencies); n > 0 {
		ms = int64(sum * 1000 / float64(n))
	}
	return c.Reply(ctx, fmt.Sprintf("Pong! **%d ms**", ms))
}
