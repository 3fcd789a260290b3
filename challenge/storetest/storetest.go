// Package storetest holds the conformance suite every challenge.Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"poic-settlement/challenge"
)

// Sample returns a fresh unanswered challenge with a unique escrow reference
// shaped like a transaction hash.
func Sample() *challenge.Challenge {
	return &challenge.Challenge{
		PromptText:      "Which planet is known as the Red Planet?",
		Options:         []string{"Venus", "Mars", "Jupiter", "Mercury"},
		CorrectOption:   "Mars",
		Explanation:     "Iron oxide on its surface gives Mars a reddish look.",
		Difficulty:      challenge.Easy,
		Topic:           "Space & Astronomy",
		OwnerIdentity:   "0x00000000000000000000000000000000000000aa",
		EscrowReference: crypto.Keccak256Hash([]byte(uuid.NewString())).Hex(),
	}
}

// Common runs the conformance suite against stores built by newStore. Each
// subtest gets its own store.
func Common(t *testing.T, newStore func(t *testing.T) challenge.Store) {
	t.Helper()

	t.Run("insert and get", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		in := Sample()
		id, err := st.Insert(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		got, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, in.PromptText, got.PromptText)
		assert.Equal(t, in.Options, got.Options)
		assert.Equal(t, in.CorrectOption, got.CorrectOption)
		assert.Equal(t, in.Explanation, got.Explanation)
		assert.Equal(t, in.Difficulty, got.Difficulty)
		assert.Equal(t, in.OwnerIdentity, got.OwnerIdentity)
		assert.Equal(t, in.EscrowReference, got.EscrowReference)
		assert.False(t, got.Answered)
		assert.False(t, got.Rewarded)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("get missing", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, challenge.ErrNotFound)
	})

	t.Run("duplicate escrow reference", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		first := Sample()
		_, err := st.Insert(ctx, first)
		require.NoError(t, err)

		second := Sample()
		second.EscrowReference = first.EscrowReference
		_, err = st.Insert(ctx, second)
		assert.ErrorIs(t, err, challenge.ErrDuplicateEscrow)
	})

	t.Run("answer once", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		id, err := st.Insert(ctx, Sample())
		require.NoError(t, err)

		require.NoError(t, st.CompareAndSetAnswered(ctx, id, "Venus", false))
		err = st.CompareAndSetAnswered(ctx, id, "Mars", true)
		assert.ErrorIs(t, err, challenge.ErrAlreadyAnswered)

		got, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Answered)
		assert.False(t, got.IsCorrect)
		assert.Equal(t, "Venus", got.SubmittedAnswer)
		require.NotNil(t, got.AnsweredAt)
	})

	t.Run("answer missing", func(t *testing.T) {
		st := newStore(t)
		err := st.CompareAndSetAnswered(context.Background(), uuid.NewString(), "x", false)
		assert.ErrorIs(t, err, challenge.ErrNotFound)
	})

	t.Run("concurrent answers have one winner", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		id, err := st.Insert(ctx, Sample())
		require.NoError(t, err)

		var wins, losses atomic.Int32
		var g errgroup.Group
		for i := 0; i < 32; i++ {
			answer := fmt.Sprintf("answer-%d", i)
			g.Go(func() error {
				err := st.CompareAndSetAnswered(ctx, id, answer, i%2 == 0)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, challenge.ErrAlreadyAnswered):
					losses.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, 31, losses.Load())
	})

	t.Run("reward requires correct answer", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		id, err := st.Insert(ctx, Sample())
		require.NoError(t, err)

		assert.ErrorIs(t, st.CompareAndSetRewarded(ctx, id, "0xmint"), challenge.ErrNotEligible)

		require.NoError(t, st.CompareAndSetAnswered(ctx, id, "Venus", false))
		assert.ErrorIs(t, st.CompareAndSetRewarded(ctx, id, "0xmint"), challenge.ErrNotEligible)

		got, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, got.Rewarded)
	})

	t.Run("reward once", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		id, err := st.Insert(ctx, Sample())
		require.NoError(t, err)
		require.NoError(t, st.CompareAndSetAnswered(ctx, id, "Mars", true))

		require.NoError(t, st.CompareAndSetRewarded(ctx, id, "0xmint1"))
		assert.ErrorIs(t, st.CompareAndSetRewarded(ctx, id, "0xmint2"), challenge.ErrAlreadyRewarded)

		got, err := st.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Rewarded)
		assert.Equal(t, "0xmint1", got.RewardReference)
		require.NotNil(t, got.RewardedAt)
	})

	t.Run("count", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := st.Insert(ctx, Sample())
			require.NoError(t, err)
		}
		n, err := st.CountAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)
	})
}
