package challenge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// OptionCount is the number of options every challenge carries.
const OptionCount = 4

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ParseDifficulty accepts easy, medium or hard in any case.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case Easy, Medium, Hard:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
}

// Challenge is a single-use question record. CorrectOption and Explanation
// must not leave the process until Answered is true.
type Challenge struct {
	ID            string     `json:"id" bson:"_id"`
	PromptText    string     `json:"promptText" bson:"promptText"`
	Options       []string   `json:"options" bson:"options"`
	CorrectOption string     `json:"-" bson:"correctOption"`
	Explanation   string     `json:"-" bson:"explanation"`
	Difficulty    Difficulty `json:"difficulty" bson:"difficulty"`
	Topic         string     `json:"topic" bson:"topic"`

	OwnerIdentity   string `json:"ownerIdentity" bson:"ownerIdentity"`
	EscrowReference string `json:"escrowReference" bson:"escrowReference"`

	Answered        bool       `json:"answered" bson:"answered"`
	AnsweredAt      *time.Time `json:"answeredAt,omitempty" bson:"answeredAt,omitempty"`
	SubmittedAnswer string     `json:"submittedAnswer,omitempty" bson:"submittedAnswer,omitempty"`
	IsCorrect       bool       `json:"isCorrect" bson:"isCorrect"`

	Rewarded        bool       `json:"rewarded" bson:"rewarded"`
	RewardedAt      *time.Time `json:"rewardedAt,omitempty" bson:"rewardedAt,omitempty"`
	RewardReference string     `json:"rewardReference,omitempty" bson:"rewardReference,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// Public is the view of a challenge that is safe to hand to the requester.
type Public struct {
	ID         string     `json:"id"`
	PromptText string     `json:"prompt"`
	Options    []string   `json:"options"`
	Difficulty Difficulty `json:"difficulty"`
	Topic      string     `json:"topic"`
	CreatedAt  time.Time  `json:"createdAt"`

	// Set only once the challenge has been answered.
	Answered        bool   `json:"answered"`
	IsCorrect       *bool  `json:"isCorrect,omitempty"`
	CorrectOption   string `json:"correctOption,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
	Rewarded        bool   `json:"rewarded,omitempty"`
	RewardReference string `json:"rewardReference,omitempty"`
}

// Public redacts the hidden fields unless the challenge is answered.
func (c *Challenge) Public() Public {
	p := Public{
		ID:         c.ID,
		PromptText: c.PromptText,
		Options:    append([]string(nil), c.Options...),
		Difficulty: c.Difficulty,
		Topic:      c.Topic,
		CreatedAt:  c.CreatedAt,
	}
	if !c.Answered {
		return p
	}

	correct := c.IsCorrect
	p.Answered = true
	p.IsCorrect = &correct
	p.CorrectOption = c.CorrectOption
	p.Explanation = c.Explanation
	p.Rewarded = c.Rewarded
	p.RewardReference = c.RewardReference
	return p
}

// Fingerprint identifies a prompt regardless of case and surrounding space.
func Fingerprint(promptText string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(promptText))))
	return hex.EncodeToString(sum[:])
}
