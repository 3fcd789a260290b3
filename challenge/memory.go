package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps challenges in process memory. It is meant for tests and
// local development; nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[string]*Challenge
	escrows map[string]string
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    map[string]*Challenge{},
		escrows: map[string]string{},
		now:     time.Now,
	}
}

func (m *MemoryStore) Insert(_ context.Context, c *Challenge) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.escrows[c.EscrowReference]; ok {
		return "", fmt.Errorf("%w: %s (challenge %s)", ErrDuplicateEscrow, c.EscrowReference, id)
	}

	row := clone(c)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if _, ok := m.rows[row.ID]; ok {
		return "", fmt.Errorf("challenge: duplicate id %s", row.ID)
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now().UTC()
	}

	m.rows[row.ID] = row
	m.escrows[row.EscrowReference] = row.ID
	return row.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(row), nil
}

func (m *MemoryStore) CompareAndSetAnswered(_ context.Context, id, answer string, isCorrect bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if row.Answered {
		return fmt.Errorf("%w: %s", ErrAlreadyAnswered, id)
	}

	now := m.now().UTC()
	row.Answered = true
	row.AnsweredAt = &now
	row.SubmittedAnswer = answer
	row.IsCorrect = isCorrect
	return nil
}

func (m *MemoryStore) CompareAndSetRewarded(_ context.Context, id, rewardRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case row.Rewarded:
		return fmt.Errorf("%w: %s", ErrAlreadyRewarded, id)
	case !row.Answered || !row.IsCorrect:
		return fmt.Errorf("%w: %s", ErrNotEligible, id)
	}

	now := m.now().UTC()
	row.Rewarded = true
	row.RewardedAt = &now
	row.RewardReference = rewardRef
	return nil
}

func (m *MemoryStore) CountAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.rows)), nil
}

func clone(c *Challenge) *Challenge {
	cp := *c
	cp.Options = append([]string(nil), c.Options...)
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		cp.AnsweredAt = &t
	}
	if c.RewardedAt != nil {
		t := *c.RewardedAt
		cp.RewardedAt = &t
	}
	return &cp
}
