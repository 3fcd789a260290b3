package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poic-settlement/authoring"
	"poic-settlement/challenge"
	"poic-settlement/issuance"
	"poic-settlement/ledger"
	"poic-settlement/permit"
	"poic-settlement/reserve"
	"poic-settlement/settlement"
)

const shutdownTimeout = 15 * time.Second

// devOperatorFunds is credited to the operator of the in-memory ledger so
// that issuance can forward escrow in local runs.
var devOperatorFunds = big.NewInt(1_000_000_000)

// Run wires every service from cfg and serves the API and metrics until ctx
// is cancelled.
func Run(ctx context.Context, cfg Config, log *zap.Logger) error {
	store, closeDB, err := connectDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	srv, err := NewServer(ctx, cfg, store, log)
	if err != nil {
		return err
	}
	if err := registerSeenGauge(prometheus.DefaultRegisterer, srv.Issuance.Seen().Len); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	api := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metrics := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []*http.Server{api, metrics} {
		g.Go(func() error {
			log.Info("listening", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), metrics.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

// NewServer builds the ledger, authoring adapter and domain services on top
// of store.
func NewServer(ctx context.Context, cfg Config, store challenge.Store, log *zap.Logger) (*Server, error) {
	ledgerClient, err := newLedger(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	adapter, err := newAdapter(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	pool := common.HexToAddress(cfg.PoolAddress)
	srv := &Server{
		Store:  store,
		Ledger: ledgerClient,
		Issuance: issuance.NewService(store, ledgerClient, adapter, issuance.AllowAll,
			issuance.NewSeenLedger(issuance.DefaultSeenSize, cfg.SeenTTL),
			issuance.Config{
				Pool:           pool,
				AttemptTimeout: cfg.AuthoringTimeout,
				LedgerTimeout:  cfg.LedgerTimeout,
			}, log),
		Settlement: settlement.NewService(store, ledgerClient, settlement.Config{
			LedgerTimeout: cfg.LedgerTimeout,
		}, log),
		Reserve: reserve.NewAccountant(ledgerClient, store, reserve.Config{
			Destination:   pool,
			LedgerTimeout: cfg.LedgerTimeout,
		}, log),
		AdminKey: cfg.AdminAPIKey,
		Log:      log,
	}

	if cfg.MintSignerPrivateKey != "" {
		key, err := parseKey(cfg.MintSignerPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("mint signer key: %w", err)
		}
		srv.Permits, err = permit.NewSigner(permit.Config{
			PrivateKey: key,
			ChainID:    cfg.ChainID,
			Contract:   common.HexToAddress(cfg.RewardTokenAddress),
		}, log)
		if err != nil {
			return nil, err
		}
	}
	return srv, nil
}

func newLedger(ctx context.Context, cfg Config, log *zap.Logger) (ledger.Client, error) {
	if cfg.LedgerBackend == LedgerMemory {
		operator := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
		if cfg.OperatorPrivateKey != "" {
			if key, err := parseKey(cfg.OperatorPrivateKey); err == nil {
				operator = crypto.PubkeyToAddress(key.PublicKey)
			}
		}
		m := ledger.NewMemory(operator)
		m.Credit(operator, devOperatorFunds)
		log.Warn("using in-memory ledger; no value moves on chain", zap.String("operator", operator.Hex()))
		return m, nil
	}

	key, err := parseKey(cfg.OperatorPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ledger.DialEVM(dialCtx, cfg.RPCURL, ledger.EVMConfig{
		PrivateKey:  key,
		ChainID:     cfg.ChainID,
		Stablecoin:  common.HexToAddress(cfg.StablecoinAddress),
		RewardToken: common.HexToAddress(cfg.RewardTokenAddress),
		MintAmount:  settlement.DefaultRewardAmount,
	}, log)
}

func newAdapter(ctx context.Context, cfg Config, log *zap.Logger) (authoring.Adapter, error) {
	var (
		adapter authoring.Adapter
		err     error
	)
	switch cfg.AuthoringBackend {
	case AuthoringAnthropic:
		adapter, err = authoring.NewAnthropicAdapter(authoring.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
			Headers: cfg.AnthropicHeaders,
			Timeout: cfg.AuthoringTimeout,
		}, log)
	case AuthoringGenAI:
		adapter, err = authoring.NewGeminiAdapter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
	default:
		err = fmt.Errorf("unknown authoring backend %q", cfg.AuthoringBackend)
	}
	if err != nil {
		return nil, err
	}
	return authoring.NewBreaker(adapter, 0, 0, log), nil
}
