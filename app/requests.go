package app

type IssueChallengeRequest struct {
	Requester  string `json:"requester"`
	Difficulty string `json:"difficulty"`
}

type AnswerRequest struct {
	Answer string `json:"answer"`
}

type PermitRequest struct {
	Owner string `json:"owner"`
	// Amount is a base-10 integer in token base units.
	Amount string `json:"amount"`
}
