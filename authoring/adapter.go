// Package authoring produces candidate challenges from a language model.
// Output is untrusted: callers validate every candidate before use.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"poic-settlement/challenge"
)

var ErrInvalidCandidate = errors.New("authoring: invalid candidate")

// Candidate is a generated question before it becomes a challenge.
type Candidate struct {
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectOption string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Adapter interface {
	Generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error)

func (f AdapterFunc) Generate(ctx context.Context, topic string, difficulty challenge.Difficulty) (Candidate, error) {
	return f(ctx, topic, difficulty)
}

// Validate checks the structural rules every challenge must satisfy.
func Validate(c Candidate) error {
	switch {
	case strings.TrimSpace(c.Prompt) == "":
		return fmt.Errorf("%w: empty question", ErrInvalidCandidate)
	case len(c.Options) != challenge.OptionCount:
		return fmt.Errorf("%w: want %d options, got %d", ErrInvalidCandidate, challenge.OptionCount, len(c.Options))
	case c.CorrectOption == "":
		return fmt.Errorf("%w: empty correct answer", ErrInvalidCandidate)
	case !slices.Contains(c.Options, c.CorrectOption):
		return fmt.Errorf("%w: correct answer %q is not an option", ErrInvalidCandidate, c.CorrectOption)
	}
	return nil
}
