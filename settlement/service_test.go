package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poic-settlement/challenge"
	"poic-settlement/challenge/storetest"
	"poic-settlement/ledger"
)

var operator = common.HexToAddress("0x00000000000000000000000000000000000000ff")

type fixture struct {
	store  *challenge.MemoryStore
	ledger *ledger.Memory
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: challenge.NewMemoryStore(), ledger: ledger.NewMemory(operator)}
	f.svc = NewService(f.store, f.ledger, Config{}, zap.NewNop())
	return f
}

func (f *fixture) issue(t *testing.T) *challenge.Challenge {
	t.Helper()
	c := storetest.Sample()
	id, err := f.store.Insert(context.Background(), c)
	require.NoError(t, err)
	c.ID = id
	return c
}

func TestSubmitAnswerHappyPath(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()

	res, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, Rewarded, res.Outcome)
	assert.True(t, res.IsCorrect)
	require.NotEmpty(t, res.RewardReference)

	mints := f.ledger.Mints()
	require.Len(t, mints, 1)
	assert.Equal(t, common.HexToAddress(c.OwnerIdentity), mints[0].To)
	assert.Equal(t, common.HexToHash(c.EscrowReference), mints[0].Key)
	assert.Equal(t, DefaultRewardAmount, mints[0].Amount)
	assert.Equal(t, string(mints[0].Ref), res.RewardReference)

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Rewarded)
	assert.Equal(t, res.RewardReference, stored.RewardReference)

	again, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, Rewarded, again.Outcome)
	assert.Equal(t, res.RewardReference, again.RewardReference)
	assert.Len(t, f.ledger.Mints(), 1)
}

func TestSubmitAnswerWrongAnswer(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()

	res, err := f.svc.SubmitAnswer(ctx, c.ID, "Venus")
	require.NoError(t, err)
	assert.Equal(t, Incorrect, res.Outcome)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, "Mars", res.CorrectOption)

	again, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, AlreadyAnswered, again.Outcome)
	assert.False(t, again.IsCorrect)
	assert.Equal(t, "Venus", again.SubmittedAnswer)
	assert.Empty(t, f.ledger.Mints())
}

func TestSubmitAnswerIsCaseSensitive(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)

	res, err := f.svc.SubmitAnswer(context.Background(), c.ID, "mars")
	require.NoError(t, err)
	assert.Equal(t, Incorrect, res.Outcome)
}

func TestSubmitAnswerNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitAnswer(context.Background(), "missing", "Mars")
	assert.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestSubmitAnswerConcurrentCorrectAnswersMintOnce(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)

	const callers = 64
	results := make([]Result, callers)
	var g errgroup.Group
	for i := range callers {
		g.Go(func() error {
			res, err := f.svc.SubmitAnswer(context.Background(), c.ID, "Mars")
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, f.ledger.Mints(), 1)
	ref := string(f.ledger.Mints()[0].Ref)
	for _, res := range results {
		assert.Equal(t, Rewarded, res.Outcome)
		assert.Equal(t, ref, res.RewardReference)
	}
	assert.Zero(t, f.svc.locks.len())
}

func TestSubmitAnswerConcurrentMixedAnswers(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)

	answers := []string{"Venus", "Mars", "Jupiter", "Mercury"}
	var (
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	var g errgroup.Group
	for i := range 40 {
		g.Go(func() error {
			res, err := f.svc.SubmitAnswer(context.Background(), c.ID, answers[i%len(answers)])
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())

	stored, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	if stored.IsCorrect {
		assert.Len(t, f.ledger.Mints(), 1)
		assert.Equal(t, 40, outcomes[Rewarded])
	} else {
		assert.Empty(t, f.ledger.Mints())
		assert.Equal(t, 1, outcomes[Incorrect])
		assert.Equal(t, 39, outcomes[AlreadyAnswered])
	}
}

func TestSubmitAnswerRewardFailed(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()
	down := errors.New("rpc unavailable")
	f.ledger.FailMints(down)

	res, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, RewardFailed, res.Outcome)
	assert.True(t, res.IsCorrect)
	assert.ErrorIs(t, res.Err, down)
	assert.Equal(t, remediationContactSupport, res.Remediation)

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Answered)
	assert.False(t, stored.Rewarded)

	// No silent retry on a later submission.
	f.ledger.FailMints(nil)
	again, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, AlreadyAnswered, again.Outcome)
	assert.True(t, again.IsCorrect)
	assert.NotEmpty(t, again.Remediation)
	assert.Empty(t, f.ledger.Mints())
}

func TestRetryReward(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()
	f.ledger.FailMints(errors.New("rpc unavailable"))

	res, err := f.svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	require.Equal(t, RewardFailed, res.Outcome)

	f.ledger.FailMints(nil)
	res, err = f.svc.RetryReward(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, Rewarded, res.Outcome)
	require.Len(t, f.ledger.Mints(), 1)

	res, err = f.svc.RetryReward(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, Rewarded, res.Outcome)
	assert.Len(t, f.ledger.Mints(), 1)
}

func TestRetryRewardConsumedKey(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()

	// The first mint landed but its outcome was not observed.
	_, err := f.ledger.MintOnce(ctx, common.HexToAddress(c.OwnerIdentity), DefaultRewardAmount, c.EscrowReference)
	require.NoError(t, err)
	require.NoError(t, f.store.CompareAndSetAnswered(ctx, c.ID, "Mars", true))

	res, err := f.svc.RetryReward(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, RewardFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, ledger.ErrIdempotencyKeyUsed)
	assert.Equal(t, remediationReconcile, res.Remediation)
	assert.Len(t, f.ledger.Mints(), 1)
}

func TestRetryRewardNotEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unanswered := f.issue(t)
	_, err := f.svc.RetryReward(ctx, unanswered.ID)
	assert.ErrorIs(t, err, challenge.ErrNotEligible)

	wrong := f.issue(t)
	_, err = f.svc.SubmitAnswer(ctx, wrong.ID, "Venus")
	require.NoError(t, err)
	_, err = f.svc.RetryReward(ctx, wrong.ID)
	assert.ErrorIs(t, err, challenge.ErrNotEligible)

	_, err = f.svc.RetryReward(ctx, "missing")
	assert.ErrorIs(t, err, challenge.ErrNotFound)
	assert.Empty(t, f.ledger.Mints())
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.len())

	unlockA()
	unlockB()
	assert.Zero(t, k.len())
}

// hookedStore runs callbacks around the answered and rewarded transitions.
type hookedStore struct {
	challenge.Store
	afterAnswered func()
	rewardErr     error
}

func (h *hookedStore) CompareAndSetAnswered(ctx context.Context, id, answer string, isCorrect bool) error {
	err := h.Store.CompareAndSetAnswered(ctx, id, answer, isCorrect)
	if err == nil && h.afterAnswered != nil {
		h.afterAnswered()
	}
	return err
}

func (h *hookedStore) CompareAndSetRewarded(ctx context.Context, id, rewardRef string) error {
	if h.rewardErr != nil {
		return h.rewardErr
	}
	return h.Store.CompareAndSetRewarded(ctx, id, rewardRef)
}

func TestSubmitAnswerMintsAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &hookedStore{Store: f.store, afterAnswered: cancel}
	svc := NewService(store, f.ledger, Config{}, zap.NewNop())

	res, err := svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, Rewarded, res.Outcome)
	require.NotEmpty(t, res.RewardReference)
	require.Error(t, ctx.Err())

	require.Len(t, f.ledger.Mints(), 1)
	stored, err := f.store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Rewarded)
	assert.Equal(t, res.RewardReference, stored.RewardReference)

	again, err := svc.SubmitAnswer(context.Background(), c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, Rewarded, again.Outcome)
	assert.Equal(t, res.RewardReference, again.RewardReference)
}

func TestSubmitAnswerMintedButNotRecorded(t *testing.T) {
	f := newFixture(t)
	c := f.issue(t)
	ctx := context.Background()

	store := &hookedStore{Store: f.store, rewardErr: errors.New("write concern timeout")}
	svc := NewService(store, f.ledger, Config{}, zap.NewNop())

	res, err := svc.SubmitAnswer(ctx, c.ID, "Mars")
	require.NoError(t, err)
	assert.Equal(t, Rewarded, res.Outcome)
	mints := f.ledger.Mints()
	require.Len(t, mints, 1)
	assert.Equal(t, string(mints[0].Ref), res.RewardReference)

	stored, err := f.store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, stored.Answered)
	assert.False(t, stored.Rewarded)

	retry, err := svc.RetryReward(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, RewardFailed, retry.Outcome)
	assert.ErrorIs(t, retry.Err, ledger.ErrIdempotencyKeyUsed)
	assert.Equal(t, remediationReconcile, retry.Remediation)
	assert.Len(t, f.ledger.Mints(), 1)
}
