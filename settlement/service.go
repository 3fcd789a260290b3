// Package settlement checks answers and pays out rewards. A challenge is
// answered once and rewarded at most once; the escrow reference recorded at
// issuance is the idempotency key of its mint.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poic-settlement/challenge"
	"poic-settlement/ledger"
)

const (
	DefaultLedgerTimeout = 2 * time.Minute
	recordTimeout        = 10 * time.Second
)

// DefaultRewardAmount is one reward token with 18 decimals.
var DefaultRewardAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

type Config struct {
	RewardAmount  *big.Int
	LedgerTimeout time.Duration
}

type Service struct {
	store  challenge.Store
	ledger ledger.Client
	cfg    Config
	log    *zap.Logger
	locks  *keyedMutex
}

func NewService(store challenge.Store, ledgerClient ledger.Client, cfg Config, log *zap.Logger) *Service {
	if cfg.RewardAmount == nil {
		cfg.RewardAmount = DefaultRewardAmount
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	return &Service{
		store:  store,
		ledger: ledgerClient,
		cfg:    cfg,
		log:    log.Named("settlement"),
		locks:  newKeyedMutex(),
	}
}

// SubmitAnswer records answer as the verdict for challenge id and, when it
// is correct, mints the reward to the challenge owner. Only a missing
// challenge or a store failure is returned as an error; every other ending
// is a Result.
func (s *Service) SubmitAnswer(ctx context.Context, id, answer string) (Result, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if c.Answered {
		return s.repeat(c), nil
	}

	isCorrect := answer == c.CorrectOption
	err = s.store.CompareAndSetAnswered(ctx, id, answer, isCorrect)
	if errors.Is(err, challenge.ErrAlreadyAnswered) {
		// Another process won the race.
		if c, err = s.store.Get(ctx, id); err != nil {
			return Result{}, err
		}
		return s.repeat(c), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("settlement: record answer: %w", err)
	}

	c.Answered = true
	c.SubmittedAnswer = answer
	c.IsCorrect = isCorrect
	s.log.Info("answer recorded",
		zap.String("challengeId", id),
		zap.String("owner", c.OwnerIdentity),
		zap.Bool("correct", isCorrect),
	)

	if !isCorrect {
		return verdict(c, Incorrect), nil
	}
	return s.reward(ctx, c)
}

// RetryReward re-attempts the mint for a challenge that was answered
// correctly but never rewarded. It is an operator action: a key the ledger
// already consumed ends in RewardFailed, never in a second mint.
func (s *Service) RetryReward(ctx context.Context, id string) (Result, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !c.Answered || !c.IsCorrect {
		return Result{}, fmt.Errorf("%w: %s", challenge.ErrNotEligible, id)
	}
	if c.Rewarded {
		return verdict(c, Rewarded), nil
	}

	s.log.Info("retrying reward", zap.String("challengeId", id), zap.String("owner", c.OwnerIdentity))
	return s.reward(ctx, c)
}

// reward runs with the challenge lock held, after the correct verdict is on
// record. It ignores cancellation by the caller.
func (s *Service) reward(ctx context.Context, c *challenge.Challenge) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	fresh, err := s.store.Get(ctx, c.ID)
	if err != nil {
		return Result{}, err
	}
	if fresh.Rewarded {
		return verdict(fresh, Rewarded), nil
	}

	mintCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	ref, err := s.ledger.MintOnce(mintCtx, common.HexToAddress(c.OwnerIdentity), s.cfg.RewardAmount, c.EscrowReference)
	if err != nil {
		fields := []zap.Field{
			zap.Bool("critical", true),
			zap.String("challengeId", c.ID),
			zap.String("owner", c.OwnerIdentity),
			zap.String("escrowReference", c.EscrowReference),
			zap.Error(err),
		}
		var amb *ledger.AmbiguousError
		if errors.As(err, &amb) {
			fields = append(fields, zap.String("tx", string(amb.Ref)))
		}
		s.log.Error("reward mint failed", fields...)

		res := verdict(c, RewardFailed)
		res.Err = err
		res.Detail = err.Error()
		res.Remediation = remediationContactSupport
		if errors.Is(err, ledger.ErrIdempotencyKeyUsed) {
			res.Remediation = remediationReconcile
		}
		return res, nil
	}

	recordCtx, cancelRecord := context.WithTimeout(ctx, recordTimeout)
	defer cancelRecord()
	if err := s.store.CompareAndSetRewarded(recordCtx, c.ID, string(ref)); err != nil {
		s.log.Error("reward minted but not recorded",
			zap.Bool("critical", true),
			zap.String("challengeId", c.ID),
			zap.String("owner", c.OwnerIdentity),
			zap.String("escrowReference", c.EscrowReference),
			zap.String("rewardReference", string(ref)),
			zap.Error(err),
		)
	}

	s.log.Info("reward minted",
		zap.String("challengeId", c.ID),
		zap.String("owner", c.OwnerIdentity),
		zap.String("rewardReference", string(ref)),
	)
	c.Rewarded = true
	c.RewardReference = string(ref)
	return verdict(c, Rewarded), nil
}

// repeat answers a submission for an already answered challenge with the
// verdict on record.
func (s *Service) repeat(c *challenge.Challenge) Result {
	if c.IsCorrect && c.Rewarded {
		return verdict(c, Rewarded)
	}
	res := verdict(c, AlreadyAnswered)
	if c.IsCorrect {
		res.Remediation = remediationPending
	}
	return res
}

func verdict(c *challenge.Challenge, o Outcome) Result {
	return Result{
		Outcome:         o,
		ChallengeID:     c.ID,
		IsCorrect:       c.IsCorrect,
		SubmittedAnswer: c.SubmittedAnswer,
		CorrectOption:   c.CorrectOption,
		Explanation:     c.Explanation,
		RewardReference: c.RewardReference,
	}
}
