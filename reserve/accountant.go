// Package reserve accounts for the operator wallet: what it owes in service
// fees and gas, and what surplus may be swept to the pool.
package reserve

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poic-settlement/ledger"
)

// NoOpReason says why a sweep moved nothing.
type NoOpReason string

const BelowThreshold NoOpReason = "below_threshold"

// Defaults in stablecoin base units (6 decimals).
var (
	DefaultServiceFee = big.NewInt(250_000)
	DefaultGasReserve = big.NewInt(10_000_000)
	DefaultThreshold  = big.NewInt(1_000_000)
)

const DefaultLedgerTimeout = 2 * time.Minute

// Counter reports how many challenges were ever issued.
type Counter interface {
	CountAll(ctx context.Context) (int64, error)
}

type Config struct {
	Destination   common.Address
	ServiceFee    *big.Int
	GasReserve    *big.Int
	Threshold     *big.Int
	LedgerTimeout time.Duration
}

// State is a snapshot of the operator wallet and its obligations.
type State struct {
	OperatorBalance      *big.Int `json:"operatorBalance"`
	ChallengesIssued     int64    `json:"challengesIssued"`
	ServiceFeeObligation *big.Int `json:"serviceFeeObligation"`
	GasReserve           *big.Int `json:"gasReserve"`
	Sweepable            *big.Int `json:"sweepable"`
}

type SweepResult struct {
	Before State        `json:"before"`
	Swept  *big.Int     `json:"swept"`
	TxRef  ledger.TxRef `json:"txRef,omitempty"`
	NoOp   NoOpReason   `json:"noOpReason,omitempty"`
}

type Accountant struct {
	ledger  ledger.Client
	counter Counter
	cfg     Config
	log     *zap.Logger

	// sweepMu keeps a single sweep in flight for the operator wallet.
	sweepMu sync.Mutex
}

func NewAccountant(ledgerClient ledger.Client, counter Counter, cfg Config, log *zap.Logger) *Accountant {
	if cfg.ServiceFee == nil {
		cfg.ServiceFee = DefaultServiceFee
	}
	if cfg.GasReserve == nil {
		cfg.GasReserve = DefaultGasReserve
	}
	if cfg.Threshold == nil {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	return &Accountant{
		ledger:  ledgerClient,
		counter: counter,
		cfg:     cfg,
		log:     log.Named("reserve"),
	}
}

// ComputeSweepable returns the operator balance above its obligations,
// never less than zero.
func (a *Accountant) ComputeSweepable(ctx context.Context) (*big.Int, error) {
	st, err := a.State(ctx)
	if err != nil {
		return nil, err
	}
	return st.Sweepable, nil
}

// State reads the operator balance and challenge count and derives the
// obligations against them.
func (a *Accountant) State(ctx context.Context) (State, error) {
	balance, err := a.ledger.BalanceOf(ctx, a.ledger.Operator())
	if err != nil {
		return State{}, fmt.Errorf("reserve: read operator balance: %w", err)
	}
	issued, err := a.counter.CountAll(ctx)
	if err != nil {
		return State{}, fmt.Errorf("reserve: count challenges: %w", err)
	}

	fees := new(big.Int).Mul(big.NewInt(issued), a.cfg.ServiceFee)
	sweepable := new(big.Int).Sub(balance, fees)
	sweepable.Sub(sweepable, a.cfg.GasReserve)
	if sweepable.Sign() < 0 {
		sweepable.SetInt64(0)
	}

	return State{
		OperatorBalance:      balance,
		ChallengesIssued:     issued,
		ServiceFeeObligation: fees,
		GasReserve:           new(big.Int).Set(a.cfg.GasReserve),
		Sweepable:            sweepable,
	}, nil
}

// Sweep transfers the sweepable surplus to the destination account. A
// concurrent call waits and then recomputes against the new balance.
func (a *Accountant) Sweep(ctx context.Context) (SweepResult, error) {
	a.sweepMu.Lock()
	defer a.sweepMu.Unlock()

	st, err := a.State(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Before: st, Swept: new(big.Int)}

	if st.Sweepable.Cmp(a.cfg.Threshold) < 0 {
		a.log.Info("sweep skipped",
			zap.String("reason", string(BelowThreshold)),
			zap.Stringer("sweepable", st.Sweepable),
			zap.Stringer("threshold", a.cfg.Threshold),
		)
		res.NoOp = BelowThreshold
		return res, nil
	}

	tctx, cancel := context.WithTimeout(ctx, a.cfg.LedgerTimeout)
	defer cancel()
	ref, err := a.ledger.Transfer(tctx, a.cfg.Destination, st.Sweepable)
	if err != nil {
		return SweepResult{}, fmt.Errorf("reserve: sweep transfer: %w", err)
	}

	a.log.Info("swept surplus",
		zap.String("tx", string(ref)),
		zap.String("destination", a.cfg.Destination.Hex()),
		zap.Stringer("amount", st.Sweepable),
		zap.Stringer("balanceBefore", st.OperatorBalance),
	)
	res.Swept = st.Sweepable
	res.TxRef = ref
	return res, nil
}
