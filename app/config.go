package app

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LedgerEVM    = "evm"
	LedgerMemory = "memory"

	AuthoringGenAI     = "genai"
	AuthoringAnthropic = "anthropic"
)

type Config struct {
	Port        string
	MetricsBind string

	StoreBackend     string
	MongoURI         string
	MongoDatabase    string
	// MongoTLSInsecure skips certificate checks, as DocumentDB clusters need.
	MongoTLSInsecure bool
	DatabaseURL      string

	LedgerBackend        string
	RPCURL               string
	ChainID              *big.Int
	OperatorPrivateKey   string
	MintSignerPrivateKey string
	RewardTokenAddress   string
	StablecoinAddress    string
	PoolAddress          string
	LedgerTimeout        time.Duration

	AdminAPIKey string

	AuthoringBackend string
	GeminiAPIKey     string
	GeminiModel      string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicModel   string
	AnthropicHeaders map[string]string
	AuthoringTimeout time.Duration

	SeenTTL time.Duration
}

// LoadConfig reads configuration from the environment after loading a .env
// file when one exists.
func LoadConfig(log *zap.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := Config{
		Port:        getenv("PORT", "8080"),
		MetricsBind: getenv("METRICS_BIND", ":9090"),

		StoreBackend:  getenv("STORE_BACKEND", StoreMongo),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getenv("MONGO_DATABASE", "poic"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		MongoTLSInsecure: os.Getenv("MONGO_TLS_INSECURE") == "true",

		LedgerBackend:        getenv("LEDGER_BACKEND", LedgerEVM),
		RPCURL:               os.Getenv("BLOCKCHAIN_RPC_URL"),
		OperatorPrivateKey:   os.Getenv("OPERATOR_PRIVATE_KEY"),
		MintSignerPrivateKey: os.Getenv("MINT_SIGNER_PRIVATE_KEY"),
		RewardTokenAddress:   os.Getenv("REWARD_TOKEN_ADDRESS"),
		StablecoinAddress:    os.Getenv("STABLECOIN_ADDRESS"),
		PoolAddress:          os.Getenv("POOL_ADDRESS"),

		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),

		AuthoringBackend: getenv("AUTHORING_BACKEND", AuthoringGenAI),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      os.Getenv("GEMINI_MODEL"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		AnthropicModel:   os.Getenv("ANTHROPIC_MODEL"),
		AnthropicHeaders: parseHeaders(os.Getenv("ANTHROPIC_EXTRA_HEADERS")),
	}

	var errs []error
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok {
			errs = append(errs, fmt.Errorf("CHAIN_ID: %q is not a number", v))
		}
		cfg.ChainID = id
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"LEDGER_TIMEOUT", &cfg.LedgerTimeout, 2 * time.Minute},
		{"AUTHORING_TIMEOUT", &cfg.AuthoringTimeout, 30 * time.Second},
		{"SEEN_TTL", &cfg.SeenTTL, 24 * time.Hour},
	} {
		v, err := durationEnv(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
		}
		*d.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations missing keys the selected backends need.
func (c Config) Validate() error {
	var errs []error
	require := func(key, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	address := func(key, value string) {
		require(key, value)
		if value != "" && !common.IsHexAddress(value) {
			errs = append(errs, fmt.Errorf("%s: %q is not an address", key, value))
		}
	}

	switch c.StoreBackend {
	case StoreMongo:
		require("MONGO_URI", c.MongoURI)
	case StorePostgres:
		require("DATABASE_URL", c.DatabaseURL)
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend))
	}

	switch c.LedgerBackend {
	case LedgerEVM:
		require("BLOCKCHAIN_RPC_URL", c.RPCURL)
		require("OPERATOR_PRIVATE_KEY", c.OperatorPrivateKey)
		address("REWARD_TOKEN_ADDRESS", c.RewardTokenAddress)
		address("STABLECOIN_ADDRESS", c.StablecoinAddress)
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND: unknown backend %q", c.LedgerBackend))
	}
	address("POOL_ADDRESS", c.PoolAddress)

	if c.OperatorPrivateKey != "" {
		if _, err := parseKey(c.OperatorPrivateKey); err != nil {
			errs = append(errs, fmt.Errorf("OPERATOR_PRIVATE_KEY: %w", err))
		}
	}
	if c.MintSignerPrivateKey != "" {
		if _, err := parseKey(c.MintSignerPrivateKey); err != nil {
			errs = append(errs, fmt.Errorf("MINT_SIGNER_PRIVATE_KEY: %w", err))
		}
		if c.ChainID == nil {
			errs = append(errs, errors.New("CHAIN_ID is required to sign permits"))
		}
		if c.LedgerBackend != LedgerEVM {
			address("REWARD_TOKEN_ADDRESS", c.RewardTokenAddress)
		}
	}

	switch c.AuthoringBackend {
	case AuthoringGenAI:
		require("GEMINI_API_KEY", c.GeminiAPIKey)
	case AuthoringAnthropic:
		require("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	default:
		errs = append(errs, fmt.Errorf("AUTHORING_BACKEND: unknown backend %q", c.AuthoringBackend))
	}

	return errors.Join(errs...)
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// parseHeaders reads "Name: value" pairs separated by commas.
func parseHeaders(s string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers
}
