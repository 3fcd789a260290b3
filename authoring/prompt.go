package authoring

import (
	"encoding/json"
	"fmt"
	"strings"

	"poic-settlement/challenge"
)

const defaultExplanation = "No explanation provided"

var difficultyGuides = map[challenge.Difficulty]struct{ description, complexity string }{
	challenge.Easy:   {"Simple general knowledge questions suitable for most people", "straightforward facts"},
	challenge.Medium: {"Moderate difficulty requiring some knowledge or reasoning", "requires thought or specific knowledge"},
	challenge.Hard:   {"Advanced questions requiring deep knowledge or complex reasoning", "challenging and requires expertise"},
}

// BuildPrompt renders the instruction sent to the model.
func BuildPrompt(topic string, difficulty challenge.Difficulty) string {
	guide := difficultyGuides[difficulty]

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a single multiple-choice trivia question specifically about: %s\n\n", topic)
	fmt.Fprintf(&b, "Difficulty Level: %s\n", strings.ToUpper(string(difficulty)))
	fmt.Fprintf(&b, "Difficulty Description: %s\n", guide.description)
	fmt.Fprintf(&b, "Complexity: %s\n\n", guide.complexity)
	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- The question MUST be about: %s\n", topic)
	fmt.Fprintf(&b, "- Provide EXACTLY %d answer options\n", challenge.OptionCount)
	b.WriteString("- Exactly ONE option is correct and the other options are plausible but wrong\n")
	b.WriteString("- Never include the answer in the question itself\n")
	b.WriteString("- Use clear phrasing and avoid double negatives\n")
	b.WriteString("- The question must be factually accurate and suitable for a global audience\n\n")
	b.WriteString("Return only JSON in this format:\n")
	b.WriteString(`{
  "question": "Your question text here?",
  "options": ["Option A", "Option B", "Option C", "Option D"],
  "correctAnswer": "The exact text of the correct option",
  "explanation": "Brief explanation of why this is correct"
}`)
	return b.String()
}

// ParseCandidate decodes a model reply, tolerating a markdown code fence
// around the JSON. It does not validate the candidate.
func ParseCandidate(reply string) (Candidate, error) {
	var c Candidate
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &c); err != nil {
		return Candidate{}, fmt.Errorf("%w: decode reply: %v", ErrInvalidCandidate, err)
	}
	if strings.TrimSpace(c.Explanation) == "" {
		c.Explanation = defaultExplanation
	}
	return c, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
