package biz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryAccountRepo is an in-memory AccountRepo for pool tests.
type memoryAccountRepo struct {
	saved    map[string]*Account
	failNext error
}

func newMemoryAccountRepo() *memoryAccountRepo {
	return &memoryAccountRepo{saved: make(map[string]*Account)}
}

func (r *memoryAccountRepo) LoadAll(ctx context.Context) ([]*Account, error) {
	out := make([]*Account, 0, len(r.saved))
	for _, a := range r.saved {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (r *memoryAccountRepo) SaveBatch(ctx context.Context, accounts []*Account) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	for _, a := range accounts {
		r.saved[a.ID] = a.Clone()
	}
	return nil
}

func (r *memoryAccountRepo) UpdateStatus(ctx context.Context, id string, status AccountStatus) error {
	a, ok := r.saved[id]
	if !ok {
		return NotFoundError("account %s not found", id)
	}
	a.Status = status
	return nil
}

func (r *memoryAccountRepo) DeleteBatch(ctx context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := r.saved[id]; ok {
			delete(r.saved, id)
			n++
		}
	}
	return n, nil
}

func candidate(id string) AccountCandidate {
	return AccountCandidate{
		ID:           id,
		SessionToken: "token-" + id,
		SessionIndex: "index-" + id,
		ConfigID:     "config-" + id,
	}
}

func newTestPool(t *testing.T, repo AccountRepo) *Pool {
	t.Helper()
	pool, err := NewPool(repo, log.DefaultLogger)
	require.NoError(t, err)
	return pool
}

func TestPool_UpsertBatch_AddAndUpdate(t *testing.T) {
	repo := newMemoryAccountRepo()
	pool := newTestPool(t, repo)

	res, err := pool.UpsertBatch(context.Background(), []AccountCandidate{
		candidate("a1"), candidate("a2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, pool.Size())

	// Same id again overwrites in place without growing the pool.
	updated := candidate("a1")
	updated.SessionToken = "rotated-token"
	res, err = pool.UpsertBatch(context.Background(), []AccountCandidate{updated})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, pool.Size())

	acct, err := pool.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, "rotated-token", acct.SessionToken)

	// Persisted rows track the pool.
	assert.Equal(t, "rotated-token", repo.saved["a1"].SessionToken)
}

func TestPool_UpsertBatch_FallbackIDs(t *testing.T) {
	pool := newTestPool(t, nil)

	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("seed")})
	require.NoError(t, err)

	anon := candidate("")
	anon2 := candidate("")
	res, err := pool.UpsertBatch(context.Background(), []AccountCandidate{anon, anon2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)

	// Pool held 1 account before the batch: generated ids continue from
	// there.
	_, err = pool.Get("account_2")
	assert.NoError(t, err)
	_, err = pool.Get("account_3")
	assert.NoError(t, err)
}

func TestPool_UpsertBatch_SkipsIncompleteCredentials(t *testing.T) {
	pool := newTestPool(t, nil)

	incomplete := candidate("broken")
	incomplete.ConfigID = ""
	res, err := pool.UpsertBatch(context.Background(), []AccountCandidate{
		incomplete, candidate("ok"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Skipped)

	_, err = pool.Get("broken")
	assert.True(t, IsNotFound(err))
}

func TestPool_UpsertBatch_NoEffect(t *testing.T) {
	pool := newTestPool(t, nil)

	incomplete := AccountCandidate{ID: "x"}
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{incomplete})
	require.Error(t, err)
	assert.True(t, IsNoEffect(err))

	_, err = pool.UpsertBatch(context.Background(), nil)
	assert.True(t, IsNoEffect(err))
}

func TestPool_UpsertBatch_AtomicOnPersistenceFailure(t *testing.T) {
	repo := newMemoryAccountRepo()
	pool := newTestPool(t, repo)

	repo.failNext = fmt.Errorf("db down")
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.Error(t, err)

	// Nothing became visible.
	assert.Equal(t, 0, pool.Size())
}

func TestPool_SelectEligible_LeastRecentlyUsed(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{
		candidate("a1"), candidate("a2"),
	})
	require.NoError(t, err)

	first, err := pool.SelectEligible(nil)
	require.NoError(t, err)
	second, err := pool.SelectEligible(nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The least recently used is the one picked first.
	third, err := pool.SelectEligible(nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestPool_SelectEligible_ExcludedAndExhausted(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.NoError(t, err)

	_, err = pool.SelectEligible(map[string]struct{}{"a1": {}})
	require.Error(t, err)
	assert.True(t, IsPoolExhausted(err))
}

func TestPool_RecordFailure_ThresholdTriggersCooldown(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.NoError(t, err)

	pool.RecordFailure("a1", 3, time.Minute)
	pool.RecordFailure("a1", 3, time.Minute)
	acct, _ := pool.Get("a1")
	assert.Equal(t, StatusActive, acct.Status)
	assert.Equal(t, 2, acct.FailureCount)

	pool.RecordFailure("a1", 3, time.Minute)
	acct, _ = pool.Get("a1")
	assert.Equal(t, StatusCoolingDown, acct.Status)
	assert.False(t, acct.CooldownUntil.IsZero())

	// Cooling accounts are not eligible before the deadline.
	_, err = pool.SelectEligible(nil)
	assert.True(t, IsPoolExhausted(err))
}

func TestPool_SelectEligible_ReactivatesAfterCooldown(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.NoError(t, err)

	now := time.Now()
	pool.now = func() time.Time { return now }
	pool.RecordFailure("a1", 1, time.Minute)

	_, err = pool.SelectEligible(nil)
	assert.True(t, IsPoolExhausted(err))

	pool.now = func() time.Time { return now.Add(2 * time.Minute) }
	acct, err := pool.SelectEligible(nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", acct.ID)
	assert.Equal(t, StatusActive, acct.Status)
}

func TestPool_RecordSuccess_ResetsFailureState(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.NoError(t, err)

	pool.RecordFailure("a1", 1, time.Hour)
	pool.RecordSuccess("a1")

	acct, _ := pool.Get("a1")
	assert.Equal(t, StatusActive, acct.Status)
	assert.Equal(t, 0, acct.FailureCount)
	assert.True(t, acct.CooldownUntil.IsZero())
}

func TestPool_DisabledAccountsStayDisabled(t *testing.T) {
	repo := newMemoryAccountRepo()
	pool := newTestPool(t, repo)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{candidate("a1")})
	require.NoError(t, err)

	_, err = pool.SetStatus(context.Background(), "a1", StatusDisabled)
	require.NoError(t, err)

	// Not selectable, and success/failure records never reactivate it.
	_, err = pool.SelectEligible(nil)
	assert.True(t, IsPoolExhausted(err))

	pool.RecordSuccess("a1")
	acct, _ := pool.Get("a1")
	assert.Equal(t, StatusDisabled, acct.Status)

	pool.RecordFailure("a1", 1, time.Minute)
	acct, _ = pool.Get("a1")
	assert.Equal(t, StatusDisabled, acct.Status)

	// Re-enabling clears failure state.
	acct, err = pool.SetStatus(context.Background(), "a1", StatusActive)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.FailureCount)
}

func TestPool_DeleteBatch(t *testing.T) {
	pool := newTestPool(t, nil)
	_, err := pool.UpsertBatch(context.Background(), []AccountCandidate{
		candidate("a1"), candidate("a2"),
	})
	require.NoError(t, err)

	deleted, err := pool.DeleteBatch(context.Background(), []string{"a1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, pool.Size())

	_, err = pool.DeleteBatch(context.Background(), []string{"missing"})
	assert.True(t, IsNotFound(err))

	err = pool.Delete(context.Background(), "a2")
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Size())
}

func TestPool_HydratesFromRepository(t *testing.T) {
	repo := newMemoryAccountRepo()
	repo.saved["seed"] = &Account{
		ID:           "seed",
		SessionToken: "t",
		SessionIndex: "i",
		ConfigID:     "c",
		Status:       StatusActive,
	}

	pool := newTestPool(t, repo)
	assert.Equal(t, 1, pool.Size())
	acct, err := pool.Get("seed")
	require.NoError(t, err)
	assert.Equal(t, "t", acct.SessionToken)
}
