package challenge

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("challenge: not found")
	ErrAlreadyAnswered   = errors.New("challenge: already answered")
	ErrAlreadyRewarded   = errors.New("challenge: already rewarded")
	ErrNotEligible       = errors.New("challenge: not eligible for reward")
	ErrDuplicateEscrow   = errors.New("challenge: escrow reference already used")
	ErrInvalidDifficulty = errors.New("challenge: invalid difficulty")
)

// Store is the durable record of challenges and the single source of truth
// for whether a challenge has been answered or rewarded.
//
// CompareAndSetAnswered and CompareAndSetRewarded are atomic per challenge id:
// of any number of concurrent callers exactly one succeeds.
type Store interface {
	// Insert persists c and returns its id. The escrow reference must be unique.
	Insert(ctx context.Context, c *Challenge) (string, error)
	Get(ctx context.Context, id string) (*Challenge, error)
	// CompareAndSetAnswered records the verdict if the challenge has not
	// been answered yet, otherwise it returns ErrAlreadyAnswered.
	CompareAndSetAnswered(ctx context.Context, id, answer string, isCorrect bool) error
	// CompareAndSetRewarded records the reward reference if the challenge was
	// answered correctly and not yet rewarded. It returns ErrAlreadyRewarded
	// or ErrNotEligible otherwise.
	CompareAndSetRewarded(ctx context.Context, id, rewardRef string) error
	CountAll(ctx context.Context) (int64, error)
}
