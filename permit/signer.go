// Package permit signs EIP-712 mint permits that a client redeems on the
// reward token contract itself.
package permit

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"
)

const (
	DomainName      = "POIC"
	DomainVersion   = "1"
	DefaultValidity = 15 * time.Minute
	primaryType     = "MintPermit"
)

var ErrInvalidAmount = errors.New("permit: amount must be positive")

var permitTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	primaryType: {
		{Name: "to", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Permit is the signed message.
type Permit struct {
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
	Nonce    *big.Int       `json:"nonce"`
	Deadline int64          `json:"deadline"`
}

type SignedPermit struct {
	Permit    Permit         `json:"permit"`
	Signature hexutil.Bytes  `json:"signature"`
	Digest    common.Hash    `json:"digest"`
	Signer    common.Address `json:"signer"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

type Config struct {
	PrivateKey *ecdsa.PrivateKey
	ChainID    *big.Int
	// Contract is the reward token that verifies permits.
	Contract common.Address
	Validity time.Duration
}

type Signer struct {
	cfg     Config
	address common.Address
	log     *zap.Logger
	now     func() time.Time

	lastNonce atomic.Uint64
}

func NewSigner(cfg Config, log *zap.Logger) (*Signer, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("permit: signing key is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("permit: chain id is required")
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	return &Signer{
		cfg:     cfg,
		address: crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		log:     log.Named("permit"),
		now:     time.Now,
	}, nil
}

func (s *Signer) Address() common.Address { return s.address }

// IssuePermit signs a permit for owner to mint amount, valid for the
// configured window from now. Every call gets a fresh nonce.
func (s *Signer) IssuePermit(owner common.Address, amount *big.Int) (SignedPermit, error) {
	if amount == nil || amount.Sign() <= 0 {
		return SignedPermit{}, ErrInvalidAmount
	}

	now := s.now()
	expires := now.Add(s.cfg.Validity)
	p := Permit{
		To:       owner,
		Amount:   new(big.Int).Set(amount),
		Nonce:    new(big.Int).SetUint64(s.nextNonce(now)),
		Deadline: expires.Unix(),
	}

	digest, err := s.Digest(p)
	if err != nil {
		return SignedPermit{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), s.cfg.PrivateKey)
	if err != nil {
		return SignedPermit{}, fmt.Errorf("permit: sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	s.log.Info("permit issued",
		zap.String("to", owner.Hex()),
		zap.Stringer("amount", p.Amount),
		zap.Stringer("nonce", p.Nonce),
		zap.Int64("deadline", p.Deadline),
	)
	return SignedPermit{
		Permit:    p,
		Signature: sig,
		Digest:    digest,
		Signer:    s.address,
		ExpiresAt: time.Unix(p.Deadline, 0).UTC(),
	}, nil
}

// Digest is the EIP-712 hash of p under this signer's domain.
func (s *Signer) Digest(p Permit) (common.Hash, error) {
	td := apitypes.TypedData{
		Types:       permitTypes,
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(s.cfg.ChainID),
			VerifyingContract: s.cfg.Contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":       p.To.Hex(),
			"amount":   p.Amount,
			"nonce":    p.Nonce,
			"deadline": big.NewInt(p.Deadline),
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("permit: hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// nextNonce is the current time in nanoseconds, bumped past the last nonce
// handed out so it strictly increases even when the clock does not.
func (s *Signer) nextNonce(now time.Time) uint64 {
	candidate := uint64(now.UnixNano())
	for {
		last := s.lastNonce.Load()
		next := max(candidate, last+1)
		if s.lastNonce.CompareAndSwap(last, next) {
			return next
		}
	}
}
