// Package ledger is the boundary to the chain: stablecoin transfers out of
// the operator wallet, idempotent reward mints and balance reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrIdempotencyKeyUsed    = errors.New("ledger: idempotency key already consumed")
	ErrInvalidIdempotencyKey = errors.New("ledger: idempotency key is not a transaction hash")
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrTxReverted            = errors.New("ledger: transaction reverted")
	ErrInvalidAmount         = errors.New("ledger: invalid amount")
)

// TxRef is the hex transaction hash of a submitted operation.
type TxRef string

// AmbiguousError reports a transaction that was submitted but whose outcome
// was not observed. It must not be resubmitted without checking the chain.
type AmbiguousError struct {
	Ref TxRef
	Err error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ledger: outcome of %s unknown: %v", e.Ref, e.Err)
}

func (e *AmbiguousError) Unwrap() error { return e.Err }

// Client moves value on behalf of the operator wallet.
type Client interface {
	// Operator is the wallet that signs transfers and mints.
	Operator() common.Address
	// Transfer sends amount of the stablecoin from the operator wallet to to.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (TxRef, error)
	// MintOnce mints amount of the reward token to to. A key that was already
	// consumed yields ErrIdempotencyKeyUsed and no second mint.
	MintOnce(ctx context.Context, to common.Address, amount *big.Int, idempotencyKey string) (TxRef, error)
	// BalanceOf reads the stablecoin balance of account.
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

// ParseIdempotencyKey accepts only 32-byte hex transaction hashes.
func ParseIdempotencyKey(key string) (common.Hash, error) {
	b, err := hexutil.Decode(key)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidIdempotencyKey, key)
	}
	return common.BytesToHash(b), nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
