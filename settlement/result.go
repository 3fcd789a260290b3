package settlement

// Outcome tags every terminal state of a submission.
type Outcome string

const (
	Incorrect       Outcome = "incorrect"
	Rewarded        Outcome = "rewarded"
	RewardFailed    Outcome = "reward_failed"
	AlreadyAnswered Outcome = "already_answered"
)

const (
	remediationContactSupport = "Your answer was correct but the reward could not be issued. " +
		"Contact support with the challenge id; the reward will be issued manually."
	remediationReconcile = "The payment reference was already used for a reward on the ledger. " +
		"Reconcile manually before issuing anything."
	remediationPending = "This challenge was answered correctly but has no recorded reward yet. " +
		"Contact support if it does not appear."
)

// Result is what a submission ended in. Verdict fields are filled for every
// outcome since the challenge is answered by then.
type Result struct {
	Outcome     Outcome `json:"status"`
	ChallengeID string  `json:"challengeId"`
	IsCorrect   bool    `json:"isCorrect"`

	SubmittedAnswer string `json:"submittedAnswer"`
	CorrectOption   string `json:"correctOption"`
	Explanation     string `json:"explanation"`

	RewardReference string `json:"rewardReference,omitempty"`
	Remediation     string `json:"remediation,omitempty"`
	Detail          string `json:"detail,omitempty"`

	// Err is the ledger failure behind RewardFailed.
	Err error `json:"-"`
}
