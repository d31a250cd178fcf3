package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coord-service/internal/models"
	redisrepo "coord-service/internal/repository/redis"
	"coord-service/internal/testutil"
)

func newTestAccountService(t *testing.T) (*AccountService, *testutil.MemoryAccountStore, *redisrepo.AccountCache) {
	t.Helper()
	rc, _ := testutil.NewRedis(t)
	store := testutil.NewMemoryAccountStore()
	cache := redisrepo.NewAccountCache(rc, time.Minute)
	return NewAccountService(store, cache), store, cache
}

func TestAccountService_FindMissing(t *testing.T) {
	svc, _, _ := newTestAccountService(t)

	_, err := svc.Find(context.Background(), 42)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountService_FindPopulatesCache(t *testing.T) {
	ctx := context.Background()
	svc, store, cache := newTestAccountService(t)
	store.Put(models.Account{UserID: 7, JoinedAt: time.Now().UTC()})

	acct, err := svc.Find(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), acct.UserID)

	_, found, err := cache.Get(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = svc.Find(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Reads())
}

func TestAccountService_ConcurrentMissesShareOneRead(t *testing.T) {
	svc, store, _ := newTestAccountService(t)
	store.Put(models.Account{UserID: 9})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Find(context.Background(), 9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Reads(), 8)
	assert.GreaterOrEqual(t, store.Reads(), 1)
}

func TestAccountService_CreateTwice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestAccountService(t)

	acct, err := svc.Create(ctx, 11)
	require.NoError(t, err)
	assert.True(t, acct.HasAcceptedTerms())
	assert.False(t, acct.Suspended)

	_, err = svc.Create(ctx, 11)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestAccountService_WritesInvalidateCache(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestAccountService(t)
	store.Put(models.Account{UserID: 5})

	acct, err := svc.Find(ctx, 5)
	require.NoError(t, err)
	assert.False(t, acct.HasAcceptedTerms())

	require.NoError(t, svc.AcceptTerms(ctx, 5))
	acct, err = svc.Find(ctx, 5)
	require.NoError(t, err)
	assert.True(t, acct.HasAcceptedTerms())

	require.NoError(t, svc.Suspend(ctx, 5, ""))
	acct, err = svc.Find(ctx, 5)
	require.NoError(t, err)
	assert.True(t, acct.Suspended)
	assert.Nil(t, acct.SuspensionReason)

	require.NoError(t, svc.Unsuspend(ctx, 5))
	acct, err = svc.Find(ctx, 5)
	require.NoError(t, err)
	assert.False(t, acct.Suspended)
}

func TestAccountService_UpdateMissing(t *testing.T) {
	svc, _, _ := newTestAccountService(t)

	err := svc.Suspend(context.Background(), 404, "spam")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountService_ClearRemindersInvalidates(t *testing.T) {
	ctx := context.Background()
	svc, store, cache := newTestAccountService(t)
	store.Put(models.Account{UserID: 1})
	require.NoError(t, svc.RecordVote(ctx, 1))

	acct, err := svc.Find(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acct.NeedVoteReminder)

	cleared, err := svc.ClearReminders(ctx, []int64{1}, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	_, found, err := cache.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	acct, err = svc.Find(ctx, 1)
	require.NoError(t, err)
	assert.False(t, acct.NeedVoteReminder)
}

// pausingStore holds FindByID after the read so a write can land before the
// reader repopulates the cache.
type pausingStore struct {
	*testutil.MemoryAccountStore
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingStore) FindByID(ctx context.Context, userID int64) (*models.Account, error) {
	acct, err := p.MemoryAccountStore.FindByID(ctx, userID)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return acct, err
}

func TestAccountService_SuspendDuringFindIsNotHiddenByCache(t *testing.T) {
	ctx := context.Background()
	rc, _ := testutil.NewRedis(t)
	store := &pausingStore{
		MemoryAccountStore: testutil.NewMemoryAccountStore(),
		read:               make(chan struct{}),
		release:            make(chan struct{}),
	}
	store.Put(models.Account{UserID: 1})
	svc := NewAccountService(store, redisrepo.NewAccountCache(rc, time.Minute))

	done := make(chan *models.Account)
	go func() {
		acct, err := svc.Find(ctx, 1)
		assert.NoError(t, err)
		done <- acct
	}()

	<-store.read
	require.NoError(t, svc.Suspend(ctx, 1, "botting"))
	close(store.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.False(t, stale.Suspended)

	acct, err := svc.Find(ctx, 1)
	require.NoError(t, err)
	assert.True(t, acct.Suspended)
	require.NotNil(t, acct.SuspensionReason)
	assert.Equal(t, "botting", *acct.SuspensionReason)
}
