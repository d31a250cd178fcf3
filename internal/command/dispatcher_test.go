package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coord-service/internal/audit"
	"coord-service/internal/authz"
	"coord-service/internal/models"
	"coord-service/internal/platform"
	"coord-service/internal/ratelimit"
	"coord-service/internal/service"
	"coord-service/internal/testutil"
)

const botID = 716390085896962058

const mention = "<@716390085896962058> "

type countingLimiter struct {
	mu    sync.Mutex
	inner ratelimit.Limiter
	calls int
}

func (l *countingLimiter) Check(ctx context.Context, userID int64, scope string) (ratelimit.Decision, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.inner.Check(ctx, userID, scope)
}

type auditSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *auditSink) Name() string { return "memory" }

func (s *auditSink) Write(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type fixedStats struct{ g models.GlobalStats }

func (f fixedStats) Rollup(context.Context) (models.GlobalStats, error) { return f.g, nil }

type fixedLatency struct{ s platform.ShardStatus }

func (f fixedLatency) Status(context.Context) (platform.ShardStatus, error) { return f.s, nil }

type fixture struct {
	dispatcher *Dispatcher
	store      *testutil.MemoryAccountStore
	limiter    *countingLimiter
	responder  *testutil.Responder
	prompter   *testutil.Prompter
	recorder   *audit.Recorder
	sink       *auditSink
	registry   *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemoryAccountStore()
	accounts := service.NewAccountService(store, nil)
	responder := &testutil.Responder{}
	prompter := &testutil.Prompter{Choice: platform.ChoiceAccepted}
	limiter := &countingLimiter{inner: ratelimit.NewMemoryLimiter(5, 3*time.Second)}
	sink := &auditSink{}
	recorder := audit.NewRecorder(zap.NewNop(), time.Second, sink)

	pipeline := authz.NewPipeline(authz.Config{
		BotUserID:         botID,
		OnboardingCommand: "start",
		PromptTimeout:     time.Minute,
		PromptDedupTTL:    time.Minute,
		TermsURL:          "https://poketwo.net/terms",
	}, accounts, prompter, responder, nil, zap.NewNop())
	t.Cleanup(pipeline.Wait)

	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, Deps{
		Accounts:      accounts,
		Stats:         fixedStats{g: models.GlobalStats{Guilds: 30, Shards: 5, Latency: 0.5, Clusters: 2}},
		Latency:       fixedLatency{s: platform.ShardStatus{Latencies: []float64{0.04, 0.06}}},
		Prompter:      prompter,
		PromptTimeout: time.Minute,
		TermsURL:      "https://poketwo.net/terms",
	}))

	d := NewDispatcher(DispatcherConfig{Scope: "command", Cluster: "cluster-0"},
		registry, limiter, pipeline, responder, recorder, nil, zap.NewNop())
	return &fixture{
		dispatcher: d,
		store:      store,
		limiter:    limiter,
		responder:  responder,
		prompter:   prompter,
		recorder:   recorder,
		sink:       sink,
		registry:   registry,
	}
}

func invoke(body string) models.Invocation {
	return models.Invocation{
		ID:        "inv-" + body,
		UserID:    1,
		UserName:  "ash#0001",
		ChannelID: 10,
		MessageID: 20,
		Prefix:    mention,
		Content:   mention + body,
	}
}

func registered(store *testutil.MemoryAccountStore) {
	now := time.Now().UTC()
	store.Put(models.Account{UserID: 1, TermsAcceptedAt: &now, JoinedAt: now})
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Command{Name: "stats", Aliases: []string{"botinfo"}}))

	err := r.Register(&Command{Name: "botinfo"})
	assert.ErrorIs(t, err, ErrDuplicateCommand)

	cmd, ok := r.Lookup("BOTINFO")
	require.True(t, ok)
	assert.Equal(t, "stats", cmd.Name)
	assert.Len(t, r.Commands(), 1)
}

func TestDispatch_UnknownCommandIsIgnored(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), invoke("catch pikachu"))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Zero(t, f.limiter.calls)
	assert.Zero(t, f.responder.Sent())
}

func TestDispatch_NotStartedGetsOnboardingHint(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), invoke("profile"))
	f.recorder.Wait()

	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, authz.KindNotStarted, res.Decision.Kind)
	require.Len(t, f.responder.Replies, 1)
	assert.Equal(t, "Please pick a starter pokémon by typing `"+mention+"start` before using this command!", f.responder.Replies[0])

	// The limiter's allow is the only side effect.
	assert.Equal(t, 1, f.limiter.calls)
	assert.Zero(t, f.prompter.Count())
	assert.Empty(t, f.sink.events)
	_, exists := f.store.Snapshot(1)
	assert.False(t, exists)
}

func TestDispatch_SuspendedGetsReasonNotice(t *testing.T) {
	f := newFixture(t)
	reason := "Botting"
	f.store.Put(models.Account{UserID: 1, Suspended: true, SuspensionReason: &reason})

	res := f.dispatcher.Dispatch(context.Background(), invoke("profile"))
	assert.Equal(t, StatusBlocked, res.Status)
	require.Len(t, f.responder.Notices, 1)
	n := f.responder.Notices[0]
	assert.Equal(t, "Account Suspended", n.Title)
	assert.Equal(t, []platform.Field{{Name: "Reason", Value: "Botting"}}, n.Fields)
}

func TestDispatch_SuspendedWithoutReason(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Account{UserID: 1, Suspended: true})

	f.dispatcher.Dispatch(context.Background(), invoke("stats"))
	require.Len(t, f.responder.Notices, 1)
	assert.Equal(t, "No reason provided", f.responder.Notices[0].Fields[0].Value)
}

func TestDispatch_RateLimitReactsAndStops(t *testing.T) {
	f := newFixture(t)
	registered(f.store)

	for i := 0; i < 5; i++ {
		res := f.dispatcher.Dispatch(context.Background(), invoke("ping"))
		require.Equal(t, StatusRan, res.Status)
	}
	res := f.dispatcher.Dispatch(context.Background(), invoke("ping"))
	assert.Equal(t, StatusRateLimited, res.Status)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.Equal(t, []string{"⌛"}, f.responder.Reactions)
	assert.Len(t, f.responder.Replies, 5)
}

func TestDispatch_HelpIsExempt(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 8; i++ {
		res := f.dispatcher.Dispatch(context.Background(), invoke("help"))
		require.Equal(t, StatusRan, res.Status)
	}
	assert.Zero(t, f.limiter.calls)
	assert.Len(t, f.responder.Notices, 8)
}

func TestDispatch_PrefixModeRequired(t *testing.T) {
	f := newFixture(t)
	registered(f.store)

	inv := invoke("ping")
	inv.Prefix = "p!"
	inv.Content = "p!ping"
	res := f.dispatcher.Dispatch(context.Background(), inv)

	assert.Equal(t, StatusPrompted, res.Status)
	assert.Empty(t, f.responder.Replies)
	require.Len(t, f.responder.Notices, 1)
	assert.Equal(t, "Mention Prefix Now Required", f.responder.Notices[0].Title)
}

func TestDispatch_RecordsAudit(t *testing.T) {
	f := newFixture(t)
	registered(f.store)

	res := f.dispatcher.Dispatch(context.Background(), invoke("ping"))
	f.recorder.Wait()

	require.Equal(t, StatusRan, res.Status)
	assert.Equal(t, []string{"Pong! **50 ms**"}, f.responder.Replies)
	require.Len(t, f.sink.events, 1)
	ev := f.sink.events[0]
	assert.Equal(t, "ping", ev.Command)
	assert.Equal(t, "cluster-0", ev.Cluster)
	assert.NotEmpty(t, ev.ID)
}

func TestDispatch_EditedContentIsNormalized(t *testing.T) {
	f := newFixture(t)
	registered(f.store)
	var got string
	require.NoError(t, f.registry.Register(&Command{
		Name: "echo",
		Run: func(_ context.Context, c *Context) error {
			got = c.Args
			return nil
		},
	}))

	inv := invoke("echo a—b")
	inv.Edited = true
	f.dispatcher.Dispatch(context.Background(), inv)
	assert.Equal(t, "a--b", got)
}

func TestDispatch_RunErrors(t *testing.T) {
	f := newFixture(t)
	registered(f.store)
	require.NoError(t, f.registry.Register(&Command{
		Name: "boom",
		Run:  func(context.Context, *Context) error { return errors.New("kaboom") },
	}))

	res := f.dispatcher.Dispatch(context.Background(), invoke("boom"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualError(t, res.Err, "kaboom")
	assert.Empty(t, f.responder.Replies)

	res = f.dispatcher.Dispatch(context.Background(), invoke("pick"))
	assert.ErrorIs(t, res.Err, ErrMissingArgument)
	assert.Equal(t, []string{"Usage: `" + mention + "pick <pokemon>`"}, f.responder.Replies)
}

func TestPick_CreatesAccount(t *testing.T) {
	f := newFixture(t)

	res := f.dispatcher.Dispatch(context.Background(), invoke("pick charmander"))
	require.Equal(t, StatusRan, res.Status)
	assert.Equal(t, []string{"Congratulations on entering the world of pokémon! Charmander is your first pokémon. Type `" + mention + "info` to view it!"}, f.responder.Replies)
	require.Len(t, f.prompter.Prompts, 1)
	assert.Equal(t, "Pokétwo Terms of Service", f.prompter.Prompts[0].Title)

	acct, ok := f.store.Snapshot(1)
	require.True(t, ok)
	assert.True(t, acct.HasAcceptedTerms())

	res = f.dispatcher.Dispatch(context.Background(), invoke("pick squirtle"))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, f.responder.Replies[1], "You have already chosen a starter pokémon!")
}

func TestPick_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		choice platform.Choice
		reply  string
	}{
		{"not a starter", "pick pikachu", platform.ChoiceAccepted, "Please select one of the starter pokémon. To view them, type `" + mention + "start`."},
		{"timeout", "pick mudkip", platform.ChoiceTimeout, "Time's up. Aborted."},
		{"declined", "pick mudkip", platform.ChoiceDeclined, "Since you chose not to accept the new user terms, we are unable to grant you access to Pokétwo.\n" +
			"If you wish to continue, please re-run the command and agree to our Terms of Service to continue."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.prompter.Choice = tt.choice

			f.dispatcher.Dispatch(context.Background(), invoke(tt.body))
			assert.Equal(t, []string{tt.reply}, f.responder.Replies)
			_, ok := f.store.Snapshot(1)
			assert.False(t, ok)
		})
	}
}

func TestStats_ShowsRollup(t *testing.T) {
	f := newFixture(t)
	registered(f.store)

	res := f.dispatcher.Dispatch(context.Background(), invoke("botinfo"))
	require.Equal(t, StatusRan, res.Status)
	require.Len(t, f.responder.Notices, 1)
	n := f.responder.Notices[0]
	assert.Equal(t, "Pokétwo Statistics", n.Title)
	assert.Equal(t, []platform.Field{
		{Name: "Servers", Value: "30"},
		{Name: "Shards", Value: "5"},
		{Name: "Trainers", Value: "1"},
		{Name: "Average Latency", Value: "100 ms"},
	}, n.Fields)
}

func TestStart_ListsStarters(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.Dispatch(context.Background(), invoke("start"))
	require.Len(t, f.responder.Notices, 1)
	n := f.responder.Notices[0]
	assert.Equal(t, "Welcome to the world of Pokémon!", n.Title)
	assert.Len(t, n.Fields, len(starterGenerations))
	assert.Equal(t, "Bulbasaur · Charmander · Squirtle", n.Fields[0].Value)
}
