package authoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"poic-settlement/challenge"
)

var ErrCircuitOpen = errors.New("authoring: circuit open")

const (
	defaultMaxFailures = 3
	defaultCooldown    = time.Minute
)

// Breaker wraps an Adapter and stops calling it after MaxFailures consecutive
// transport failures. After Cooldown a single trial call is let through; its
// outcome closes or reopens the circuit. Invalid candidates do not count as
// failures since the upstream answered.
type Breaker struct {
	next        Adapter
	maxFailures int
	cooldown    time.Duration
	log         *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	failures int
	openedAt time.Time
	trial    bool
}

var _ Adapter = (*Breaker)(nil)

func NewBreaker(next Adapter, maxFailures int, cooldown time.Duration, log *zap.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		next:        next,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		log:         log.Named("breaker"),
		now:         time.Now,
	}
}

func (b *Breaker) Generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error) {
	if err := b.allow(); err != nil {
		return Candidate{}, err
	}
	c, err := b.next.Generate(ctx, topic, difficulty)
	b.record(err)
	return c, err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.maxFailures {
		return nil
	}
	if b.trial || b.now().Sub(b.openedAt) < b.cooldown {
		return fmt.Errorf("%w: %d consecutive failures", ErrCircuitOpen, b.failures)
	}
	b.trial = true
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.trial
	b.trial = false

	if err == nil || errors.Is(err, ErrInvalidCandidate) {
		if b.failures >= b.maxFailures {
			b.log.Info("circuit closed")
		}
		b.failures = 0
		return
	}

	b.failures++
	if b.failures == b.maxFailures || wasTrial {
		b.openedAt = b.now()
		b.log.Warn("circuit opened", zap.Int("failures", b.failures), zap.Error(err))
	}
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures >= b.maxFailures && (b.trial || b.now().Sub(b.openedAt) < b.cooldown)
}
