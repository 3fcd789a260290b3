package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the challenges table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id                TEXT PRIMARY KEY,
	prompt_text       TEXT NOT NULL,
	options           TEXT[] NOT NULL,
	correct_option    TEXT NOT NULL,
	explanation       TEXT NOT NULL DEFAULT '',
	difficulty        TEXT NOT NULL,
	topic             TEXT NOT NULL DEFAULT '',
	owner_identity    TEXT NOT NULL,
	escrow_reference  TEXT NOT NULL UNIQUE,
	answered          BOOLEAN NOT NULL DEFAULT FALSE,
	answered_at       TIMESTAMPTZ,
	submitted_answer  TEXT,
	is_correct        BOOLEAN NOT NULL DEFAULT FALSE,
	rewarded          BOOLEAN NOT NULL DEFAULT FALSE,
	rewarded_at       TIMESTAMPTZ,
	reward_reference  TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const uniqueViolation = "23505"

// PostgresStore keeps challenges in PostgreSQL. State transitions are single
// conditional UPDATE statements, so row-level locking provides the
// compare-and-set.
type PostgresStore struct {
	DB  *pgxpool.Pool
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{DB: db, now: time.Now}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("challenge: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, c *Challenge) (string, error) {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	_, err := s.DB.Exec(ctx, `
INSERT INTO challenges(id,prompt_text,options,correct_option,explanation,difficulty,topic,owner_identity,escrow_reference,created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, id, c.PromptText, c.Options, c.CorrectOption, c.Explanation, string(c.Difficulty), c.Topic, c.OwnerIdentity, c.EscrowReference, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrDuplicateEscrow, c.EscrowReference)
		}
		return "", fmt.Errorf("challenge: insert: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Challenge, error) {
	var (
		c          Challenge
		difficulty string
	)
	err := s.DB.QueryRow(ctx, `
SELECT id,prompt_text,options,correct_option,explanation,difficulty,topic,owner_identity,escrow_reference,
       answered,answered_at,COALESCE(submitted_answer,''),is_correct,
       rewarded,rewarded_at,COALESCE(reward_reference,''),created_at
FROM challenges
WHERE id=$1
`, id).Scan(
		&c.ID, &c.PromptText, &c.Options, &c.CorrectOption, &c.Explanation, &difficulty, &c.Topic, &c.OwnerIdentity, &c.EscrowReference,
		&c.Answered, &c.AnsweredAt, &c.SubmittedAnswer, &c.IsCorrect,
		&c.Rewarded, &c.RewardedAt, &c.RewardReference, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("challenge: get %s: %w", id, err)
	}
	c.Difficulty = Difficulty(difficulty)
	return &c, nil
}

func (s *PostgresStore) CompareAndSetAnswered(ctx context.Context, id, answer string, isCorrect bool) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE challenges
SET answered=TRUE, answered_at=$2, submitted_answer=$3, is_correct=$4
WHERE id=$1 AND NOT answered
`, id, s.now().UTC(), answer, isCorrect)
	if err != nil {
		return fmt.Errorf("challenge: mark answered %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyAnswered, id)
}

func (s *PostgresStore) CompareAndSetRewarded(ctx context.Context, id, rewardRef string) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE challenges
SET rewarded=TRUE, rewarded_at=$2, reward_reference=$3
WHERE id=$1 AND answered AND is_correct AND NOT rewarded
`, id, s.now().UTC(), rewardRef)
	if err != nil {
		return fmt.Errorf("challenge: mark rewarded %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Rewarded {
		return fmt.Errorf("%w: %s", ErrAlreadyRewarded, id)
	}
	return fmt.Errorf("%w: %s", ErrNotEligible, id)
}

func (s *PostgresStore) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM challenges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("challenge: count: %w", err)
	}
	return n, nil
}
