package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Memory is a simulated ledger holding stablecoin and reward token balances
// in process memory. It honors the same idempotency contract as the chain
// and lets tests inject failures.
type Memory struct {
	mu       sync.Mutex
	operator common.Address
	stable   map[common.Address]*big.Int
	reward   map[common.Address]*big.Int
	consumed map[common.Hash]TxRef
	seq      uint64

	transfers []Transfer
	mints     []Mint

	transferErr error
	mintErr     error
}

// Transfer is a recorded stablecoin movement.
type Transfer struct {
	Ref    TxRef
	To     common.Address
	Amount *big.Int
}

// Mint is a recorded reward issuance.
type Mint struct {
	Ref    TxRef
	To     common.Address
	Amount *big.Int
	Key    common.Hash
}

var _ Client = (*Memory)(nil)

func NewMemory(operator common.Address) *Memory {
	return &Memory{
		operator: operator,
		stable:   map[common.Address]*big.Int{},
		reward:   map[common.Address]*big.Int{},
		consumed: map[common.Hash]TxRef{},
	}
}

func (m *Memory) Operator() common.Address { return m.operator }

// Credit adds stablecoin to account, as an incoming payment would.
func (m *Memory) Credit(account common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stable[account] = new(big.Int).Add(m.balance(m.stable, account), amount)
}

// FailTransfers makes every following Transfer return err. Pass nil to heal.
func (m *Memory) FailTransfers(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transferErr = err
}

// FailMints makes every following MintOnce return err. Pass nil to heal.
func (m *Memory) FailMints(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintErr = err
}

func (m *Memory) Transfer(ctx context.Context, to common.Address, amount *big.Int) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validAmount(amount); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transferErr != nil {
		return "", m.transferErr
	}
	from := m.balance(m.stable, m.operator)
	if from.Cmp(amount) < 0 {
		return "", fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, from, amount)
	}

	ref := m.nextRef()
	m.stable[m.operator] = new(big.Int).Sub(from, amount)
	m.stable[to] = new(big.Int).Add(m.balance(m.stable, to), amount)
	m.transfers = append(m.transfers, Transfer{Ref: ref, To: to, Amount: new(big.Int).Set(amount)})
	return ref, nil
}

func (m *Memory) MintOnce(ctx context.Context, to common.Address, amount *big.Int, idempotencyKey string) (TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validAmount(amount); err != nil {
		return "", err
	}
	key, err := ParseIdempotencyKey(idempotencyKey)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mintErr != nil {
		return "", m.mintErr
	}
	if prev, ok := m.consumed[key]; ok {
		return "", fmt.Errorf("%w: %s minted in %s", ErrIdempotencyKeyUsed, key, prev)
	}

	ref := m.nextRef()
	m.consumed[key] = ref
	m.reward[to] = new(big.Int).Add(m.balance(m.reward, to), amount)
	m.mints = append(m.mints, Mint{Ref: ref, To: to, Amount: new(big.Int).Set(amount), Key: key})
	return ref, nil
}

func (m *Memory) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(m.stable, account)), nil
}

// RewardBalanceOf reads the reward token balance of account.
func (m *Memory) RewardBalanceOf(account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(m.reward, account))
}

func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.transfers...)
}

func (m *Memory) Mints() []Mint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mint(nil), m.mints...)
}

func (m *Memory) balance(book map[common.Address]*big.Int, account common.Address) *big.Int {
	if b, ok := book[account]; ok {
		return b
	}
	return new(big.Int)
}

func (m *Memory) nextRef() TxRef {
	m.seq++
	seed := new(big.Int).SetUint64(m.seq).Bytes()
	return TxRef(crypto.Keccak256Hash(m.operator.Bytes(), seed).Hex())
}
