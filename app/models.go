package app

import (
	"math/big"
	"time"

	"poic-settlement/challenge"
	"poic-settlement/ledger"
	"poic-settlement/reserve"
)

type IssueChallengeResponse struct {
	ChallengeID string           `json:"challengeId"`
	Challenge   challenge.Public `json:"challenge"`
}

type SweepResponse struct {
	Status        string             `json:"status"`
	BalanceBefore *big.Int           `json:"balanceBefore"`
	BalanceAfter  *big.Int           `json:"balanceAfter"`
	Swept         *big.Int           `json:"swept"`
	TxRef         ledger.TxRef       `json:"txRef,omitempty"`
	Reason        reserve.NoOpReason `json:"reason,omitempty"`
}

type PermitResponse struct {
	To        string    `json:"to"`
	Amount    string    `json:"amount"`
	Nonce     string    `json:"nonce"`
	Deadline  int64     `json:"deadline"`
	Signature string    `json:"signature"`
	Signer    string    `json:"signer"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type errorResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
