// Package config resolves runtime settings from flags and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRPCURL         = "https://ethereum-sepolia-rpc.publicnode.com"
	DefaultRelayURL       = "wss://clearnet-sandbox.yellow.com/ws"
	DefaultActionExecutor = "0x29e26275177A5DD5cc92bE0dF2700D1BE2F9D6BE"
	DefaultListen         = ":9000"
	DefaultChainID        = 11155111
	DefaultSessionExpiry  = time.Hour
	DefaultPreference     = "ambire"
)

// Config holds resolved settings for the daemon and the CLI.
type Config struct {
	RPCURL         string
	ChainID        int64
	WalletKey      string
	WalletRPCURL   string
	Preference     string
	ActionExecutor string
	PriceCheckHook string
	RelayURL       string
	// HeartbeatTimeout drops a silent relay connection. Zero disables it.
	HeartbeatTimeout time.Duration
	RedisURL         string
	Home             string
	Passphrase       string
	SessionExpiry    time.Duration
	Listen           string
	RateLimit        float64
	RateBurst        int
	LogLevel         string
	Debug            bool
}

// Default returns the sandbox configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		RPCURL:         DefaultRPCURL,
		ChainID:        DefaultChainID,
		Preference:     DefaultPreference,
		ActionExecutor: DefaultActionExecutor,
		RelayURL:       DefaultRelayURL,
		Home:           filepath.Join(home, ".onerecurr"),
		SessionExpiry:  DefaultSessionExpiry,
		Listen:         DefaultListen,
		RateLimit:      5,
		RateBurst:      10,
		LogLevel:       "info",
	}
}

// FromEnv overlays environment variables on Default.
func FromEnv() Config {
	cfg := Default()

	str := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str(&cfg.RPCURL, "ONERECURR_RPC_URL")
	str(&cfg.WalletKey, "ONERECURR_WALLET_KEY")
	str(&cfg.WalletRPCURL, "ONERECURR_WALLET_RPC_URL")
	str(&cfg.Preference, "ONERECURR_WALLET_PREFERENCE")
	str(&cfg.ActionExecutor, "ONERECURR_ACTION_EXECUTOR")
	str(&cfg.PriceCheckHook, "ONERECURR_PRICE_CHECK_HOOK")
	str(&cfg.RelayURL, "ONERECURR_RELAY_URL")
	str(&cfg.RedisURL, "REDIS_URL")
	str(&cfg.Home, "ONERECURR_HOME")
	str(&cfg.Passphrase, "ONERECURR_PASSPHRASE")
	str(&cfg.Listen, "ONERECURR_LISTEN")
	str(&cfg.LogLevel, "ONERECURR_LOG_LEVEL")

	if v, err := strconv.ParseInt(os.Getenv("ONERECURR_CHAIN_ID"), 10, 64); err == nil {
		cfg.ChainID = v
	}
	if v, err := time.ParseDuration(os.Getenv("ONERECURR_SESSION_EXPIRY")); err == nil {
		cfg.SessionExpiry = v
	}
	if v, err := time.ParseDuration(os.Getenv("ONERECURR_RELAY_HEARTBEAT_TIMEOUT")); err == nil {
		cfg.HeartbeatTimeout = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("ONERECURR_RATE_LIMIT"), 64); err == nil {
		cfg.RateLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("ONERECURR_RATE_BURST")); err == nil {
		cfg.RateBurst = v
	}
	if v, err := strconv.ParseBool(os.Getenv("ONERECURR_DEBUG")); err == nil {
		cfg.Debug = v
	}
	return cfg
}

// Validate rejects malformed addresses, URLs and keys.
func (c Config) Validate() error {
	var errs []error

	if !common.IsHexAddress(c.ActionExecutor) {
		errs = append(errs, fmt.Errorf("invalid action executor address %q", c.ActionExecutor))
	}
	if c.PriceCheckHook != "" && !common.IsHexAddress(c.PriceCheckHook) {
		errs = append(errs, fmt.Errorf("invalid price check hook address %q", c.PriceCheckHook))
	}
	if c.RPCURL != "" {
		if err := checkURL(c.RPCURL, "http", "https", "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("rpc url: %w", err))
		}
	}
	if c.WalletRPCURL != "" {
		if err := checkURL(c.WalletRPCURL, "http", "https", "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("wallet rpc url: %w", err))
		}
	}
	if err := checkURL(c.RelayURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("relay url: %w", err))
	}
	if c.RedisURL != "" {
		if err := checkURL(c.RedisURL, "redis", "rediss", "unix"); err != nil {
			errs = append(errs, fmt.Errorf("redis url: %w", err))
		}
	}
	if c.WalletKey != "" {
		if _, err := crypto.HexToECDSA(trim0x(c.WalletKey)); err != nil {
			errs = append(errs, fmt.Errorf("invalid wallet key: %w", err))
		}
	}
	if c.ChainID <= 0 {
		errs = append(errs, errors.New("chain id must be positive"))
	}
	if c.SessionExpiry <= 0 {
		errs = append(errs, errors.New("session expiry must be positive"))
	}
	if c.HeartbeatTimeout < 0 {
		errs = append(errs, errors.New("heartbeat timeout must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Logger builds the process logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.Debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
