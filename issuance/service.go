// Package issuance sells challenges: it authors a fresh question, forwards
// the pool share of the payment and only then persists the challenge.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poic-settlement/authoring"
	"poic-settlement/challenge"
	"poic-settlement/ledger"
)

var (
	ErrExhaustedRetries    = errors.New("issuance: no valid challenge within retry budget")
	ErrEscrowForwardFailed = errors.New("issuance: escrow forward failed")
	ErrNotEntitled         = errors.New("issuance: requester is not entitled")
	ErrInvalidRequester    = errors.New("issuance: requester is not a valid address")
	ErrPersistFailed       = errors.New("issuance: challenge not persisted")
)

const (
	DefaultMaxAttempts    = 10
	DefaultAttemptTimeout = 30 * time.Second
	DefaultLedgerTimeout  = 2 * time.Minute
	persistTimeout        = 10 * time.Second
)

// DefaultPoolShare is the part of the 1.25 USDC price forwarded to the pool.
var DefaultPoolShare = big.NewInt(1_000_000)

type Config struct {
	Pool      common.Address
	PoolShare *big.Int

	MaxAttempts    int
	AttemptTimeout time.Duration
	LedgerTimeout  time.Duration
}

type Service struct {
	store       challenge.Store
	ledger      ledger.Client
	adapter     authoring.Adapter
	entitlement EntitlementChecker
	seen        *SeenLedger
	cfg         Config
	log         *zap.Logger

	topic func() string
}

func NewService(
	store challenge.Store,
	ledgerClient ledger.Client,
	adapter authoring.Adapter,
	entitlement EntitlementChecker,
	seen *SeenLedger,
	cfg Config,
	log *zap.Logger,
) *Service {
	if cfg.PoolShare == nil {
		cfg.PoolShare = DefaultPoolShare
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	if entitlement == nil {
		entitlement = AllowAll
	}
	if seen == nil {
		seen = NewSeenLedger(0, 0)
	}
	return &Service{
		store:       store,
		ledger:      ledgerClient,
		adapter:     adapter,
		entitlement: entitlement,
		seen:        seen,
		cfg:         cfg,
		log:         log.Named("issuance"),
		topic:       authoring.RandomTopic,
	}
}

// Seen exposes the seen-topic ledger for stats.
func (s *Service) Seen() *SeenLedger { return s.seen }

// IssueChallenge authors a challenge for requester, forwards the pool share
// of their payment and persists the challenge. The returned view never
// carries the correct option.
func (s *Service) IssueChallenge(ctx context.Context, requester string, difficulty challenge.Difficulty) (string, challenge.Public, error) {
	if !common.IsHexAddress(requester) {
		return "", challenge.Public{}, fmt.Errorf("%w: %q", ErrInvalidRequester, requester)
	}
	owner := common.HexToAddress(requester)
	difficulty, err := challenge.ParseDifficulty(string(difficulty))
	if err != nil {
		return "", challenge.Public{}, err
	}

	ok, err := s.entitlement.Entitled(ctx, owner)
	if err != nil {
		return "", challenge.Public{}, fmt.Errorf("issuance: check entitlement: %w", err)
	}
	if !ok {
		return "", challenge.Public{}, fmt.Errorf("%w: %s", ErrNotEntitled, owner.Hex())
	}

	topic, candidate, err := s.author(ctx, owner.Hex(), difficulty)
	if err != nil {
		return "", challenge.Public{}, err
	}

	escrowRef, err := s.forwardEscrow(ctx, owner)
	if err != nil {
		return "", challenge.Public{}, err
	}

	c := &challenge.Challenge{
		PromptText:      candidate.Prompt,
		Options:         candidate.Options,
		CorrectOption:   candidate.CorrectOption,
		Explanation:     candidate.Explanation,
		Difficulty:      difficulty,
		Topic:           topic,
		OwnerIdentity:   owner.Hex(),
		EscrowReference: string(escrowRef),
		CreatedAt:       time.Now().UTC(),
	}

	// The pool share has moved; finish the insert even if the caller is gone.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	id, err := s.store.Insert(persistCtx, c)
	if err != nil {
		s.log.Error("escrow forwarded but challenge not persisted",
			zap.Bool("critical", true),
			zap.String("owner", owner.Hex()),
			zap.String("escrowReference", string(escrowRef)),
			zap.Error(err),
		)
		return "", challenge.Public{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	c.ID = id

	s.seen.Mark(owner.Hex(), challenge.Fingerprint(c.PromptText))

	s.log.Info("challenge issued",
		zap.String("challengeId", id),
		zap.String("owner", owner.Hex()),
		zap.String("difficulty", string(difficulty)),
		zap.String("topic", topic),
		zap.String("escrowReference", string(escrowRef)),
	)
	return id, c.Public(), nil
}

// author asks the adapter for candidates until one is valid and unseen by
// requester, or the attempt budget runs out.
func (s *Service) author(ctx context.Context, requester string, difficulty challenge.Difficulty) (string, authoring.Candidate, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", authoring.Candidate{}, err
		}

		topic := s.topic()
		candidate, err := s.generate(ctx, topic, difficulty)
		if err == nil {
			err = authoring.Validate(candidate)
		}
		if err == nil && s.seen.Seen(requester, challenge.Fingerprint(candidate.Prompt)) {
			err = errors.New("prompt already issued to requester")
		}
		if err == nil {
			return topic, candidate, nil
		}

		lastErr = err
		s.log.Warn("candidate rejected",
			zap.Int("attempt", attempt),
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
	return "", authoring.Candidate{}, fmt.Errorf("%w after %d attempts: %v", ErrExhaustedRetries, s.cfg.MaxAttempts, lastErr)
}

func (s *Service) generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (authoring.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	return s.adapter.Generate(ctx, topic, difficulty)
}

func (s *Service) forwardEscrow(ctx context.Context, owner common.Address) (ledger.TxRef, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	ref, err := s.ledger.Transfer(ctx, s.cfg.Pool, s.cfg.PoolShare)
	if err == nil {
		return ref, nil
	}

	var amb *ledger.AmbiguousError
	if errors.As(err, &amb) {
		s.log.Error("escrow forward outcome unknown",
			zap.Bool("critical", true),
			zap.String("owner", owner.Hex()),
			zap.String("tx", string(amb.Ref)),
			zap.Error(err),
		)
	} else {
		s.log.Warn("escrow forward failed", zap.String("owner", owner.Hex()), zap.Error(err))
	}
	return "", fmt.Errorf("%w: %w", ErrEscrowForwardFailed, err)
}
