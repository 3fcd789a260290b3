package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const defaultGasLimit = 300_000

// Backend is the part of an Ethereum node client the EVM ledger relies on.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type EVMConfig struct {
	PrivateKey  *ecdsa.PrivateKey
	ChainID     *big.Int
	Stablecoin  common.Address
	RewardToken common.Address
	// MintAmount is the fixed amount the reward token mints per recipient.
	MintAmount *big.Int
	GasLimit   uint64
}

// EVM submits ledger operations as signed legacy transactions from a single
// operator key. Submissions are serialized so pending nonces never collide.
type EVM struct {
	backend Backend
	cfg     EVMConfig
	from    common.Address
	signer  types.Signer
	log     *zap.Logger

	sendMu sync.Mutex
}

var _ Client = (*EVM)(nil)

// DialEVM connects to rpcURL. When cfg.ChainID is nil it is read from the node.
func DialEVM(ctx context.Context, rpcURL string, cfg EVMConfig, log *zap.Logger) (*EVM, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect to %s: %w", rpcURL, err)
	}
	if cfg.ChainID == nil {
		chainID, err := client.NetworkID(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger: get network ID: %w", err)
		}
		cfg.ChainID = chainID
	}
	return NewEVM(client, cfg, log)
}

func NewEVM(backend Backend, cfg EVMConfig, log *zap.Logger) (*EVM, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("ledger: operator private key is required")
	}
	if cfg.ChainID == nil {
		return nil, errors.New("ledger: chain id is required")
	}
	if err := validAmount(cfg.MintAmount); err != nil {
		return nil, fmt.Errorf("ledger: mint amount: %w", err)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}

	publicKeyECDSA, ok := cfg.PrivateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("ledger: invalid public key")
	}

	return &EVM{
		backend: backend,
		cfg:     cfg,
		from:    crypto.PubkeyToAddress(*publicKeyECDSA),
		signer:  types.NewEIP155Signer(cfg.ChainID),
		log:     log.Named("ledger"),
	}, nil
}

func (e *EVM) Operator() common.Address { return e.from }

func (e *EVM) Transfer(ctx context.Context, to common.Address, amount *big.Int) (TxRef, error) {
	if err := validAmount(amount); err != nil {
		return "", err
	}
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return "", fmt.Errorf("ledger: pack transfer: %w", err)
	}
	return e.submit(ctx, e.cfg.Stablecoin, data)
}

func (e *EVM) MintOnce(ctx context.Context, to common.Address, amount *big.Int, idempotencyKey string) (TxRef, error) {
	if err := validAmount(amount); err != nil {
		return "", err
	}
	if amount.Cmp(e.cfg.MintAmount) != 0 {
		return "", fmt.Errorf("%w: reward token mints exactly %s, asked for %s", ErrInvalidAmount, e.cfg.MintAmount, amount)
	}
	key, err := ParseIdempotencyKey(idempotencyKey)
	if err != nil {
		return "", err
	}

	processed, err := e.isPaymentProcessed(ctx, key)
	if err != nil {
		return "", err
	}
	if processed {
		return "", fmt.Errorf("%w: %s", ErrIdempotencyKeyUsed, key)
	}

	data, err := rewardTokenABI.Pack("batchMint", []common.Address{to}, [][32]byte{key})
	if err != nil {
		return "", fmt.Errorf("ledger: pack batchMint: %w", err)
	}
	return e.submit(ctx, e.cfg.RewardToken, data)
}

func (e *EVM) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack balanceOf: %w", err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.cfg.Stablecoin, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: call balanceOf: %w", err)
	}

	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", out); err != nil {
		return nil, fmt.Errorf("ledger: unpack balanceOf: %w", err)
	}
	return balance, nil
}

func (e *EVM) isPaymentProcessed(ctx context.Context, key common.Hash) (bool, error) {
	data, err := rewardTokenABI.Pack("isPaymentProcessed", [32]byte(key))
	if err != nil {
		return false, fmt.Errorf("ledger: pack isPaymentProcessed: %w", err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.cfg.RewardToken, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: call isPaymentProcessed: %w", err)
	}

	var processed bool
	if err := rewardTokenABI.UnpackIntoInterface(&processed, "isPaymentProcessed", out); err != nil {
		return false, fmt.Errorf("ledger: unpack isPaymentProcessed: %w", err)
	}
	return processed, nil
}

// submit signs and sends a call to contract, then waits for its receipt.
// Once the transaction may have reached the node, failures are reported as
// *AmbiguousError carrying its hash.
func (e *EVM) submit(ctx context.Context, contract common.Address, data []byte) (TxRef, error) {
	signedTx, err := e.send(ctx, contract, data)
	if err != nil {
		return "", err
	}
	ref := TxRef(signedTx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, e.backend, signedTx)
	if err != nil {
		return "", &AmbiguousError{Ref: ref, Err: fmt.Errorf("wait mined: %w", err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%w: %s", ErrTxReverted, ref)
	}

	e.log.Info("transaction mined",
		zap.String("tx", string(ref)),
		zap.String("contract", contract.Hex()),
		zap.Stringer("block", receipt.BlockNumber),
	)
	return ref, nil
}

func (e *EVM) send(ctx context.Context, contract common.Address, data []byte) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("ledger: get nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: get gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      e.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, e.signer, e.cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: sign transaction: %w", err)
	}

	if err := e.backend.SendTransaction(ctx, signedTx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &AmbiguousError{Ref: TxRef(signedTx.Hash().Hex()), Err: err}
		}
		return nil, fmt.Errorf("ledger: send transaction: %w", err)
	}
	return signedTx, nil
}
