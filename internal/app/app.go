// Package app wires the stores, adapters and services for the daemon and
// the CLI from a resolved config.Config.
package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/layer-3/onerecurr/adapters/events"
	"github.com/layer-3/onerecurr/adapters/relay"
	"github.com/layer-3/onerecurr/adapters/store"
	"github.com/layer-3/onerecurr/adapters/tokenizer"
	"github.com/layer-3/onerecurr/adapters/wallet"
	"github.com/layer-3/onerecurr/config"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/layer-3/onerecurr/ports"
	"github.com/layer-3/onerecurr/service"
	transport "github.com/layer-3/onerecurr/transport/http"
)

// App bundles everything a command needs.
type App struct {
	Config config.Config
	Log    *logrus.Logger

	Store    ports.Store
	Registry *wallet.Registry
	Local    *wallet.LocalProvider
	Wallet   *service.WalletService
	Sessions *service.SessionService
	Auth     *service.AuthService
	Relay    *relay.Client
	Channels *service.ChannelService
	Chain    *ethclient.Client
	Actions  *service.ActionService
	Prices   *service.PriceCheckService

	redis     *redis.Client
	publisher message.Publisher
	remote    *wallet.RPCProvider
}

// New builds the dependency graph. Nothing talks to the relay until Start.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{Config: cfg, Log: cfg.Logger()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial rpc: %w", err)
		}
		a.Chain = client
		idCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if id, err := client.ChainID(idCtx); err == nil {
			chainID = id
		} else {
			a.Log.WithError(err).Warn("failed to read chain id from rpc, using configured value")
		}
		cancel()
	}

	if err := a.openWallets(ctx, chainID); err != nil {
		return nil, err
	}

	executor := common.HexToAddress(cfg.ActionExecutor)
	bus := events.NewWatermillPublisher(a.publisher)

	opts := []service.SessionOption{
		service.WithSessionExpiry(cfg.SessionExpiry),
		service.WithSessionEvents(bus),
		service.WithSessionLogger(a.Log),
	}
	if cfg.Passphrase != "" {
		opts = append(opts, service.WithSealer(store.NewPassphraseSealer(cfg.Passphrase)))
	}
	a.Sessions = service.NewSessionService(a.Wallet, a.Store, executor, opts...)
	a.Wallet.OnEvent(a.Sessions.HandleWalletEvent)

	// API tokens are only valid for the lifetime of the process.
	jwtKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	a.Auth = service.NewAuthService(tokenizer.NewJWTTokenizer(jwtKey, nil), a.Sessions, a.Store, a.Log)

	a.Relay = relay.NewClient(relay.Config{
		URL:              cfg.RelayURL,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	}, nil, a.Log)
	a.Channels = service.NewChannelService(a.Relay, a.Sessions, executor,
		service.WithChannelEvents(bus),
		service.WithChannelLogger(a.Log),
	)

	var hook common.Address
	if cfg.PriceCheckHook != "" {
		hook = common.HexToAddress(cfg.PriceCheckHook)
	}
	if a.Chain != nil {
		a.Actions = service.NewActionService(a.Chain, executor, a.Log)
		a.Prices = service.NewPriceCheckService(a.Chain, hook, a.Log)
	} else {
		a.Prices = service.NewPriceCheckService(nil, common.Address{}, a.Log)
	}

	ok = true
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	wmLogger := watermill.NewStdLogger(a.Config.Debug, false)

	if a.Config.RedisURL != "" {
		client, err := store.DialRedis(ctx, a.Config.RedisURL)
		if err != nil {
			return err
		}
		a.redis = client
		a.Store = store.NewRedisStore(client)

		pub, err := events.NewRedisStreamPublisher(client, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		a.publisher = pub
		return nil
	}

	fs, err := store.NewFileStore(filepath.Join(a.Config.Home, "state"), nil, a.Log)
	if err != nil {
		return err
	}
	a.Store = fs
	a.publisher = events.NewInProcessPubSub(wmLogger)
	return nil
}

func (a *App) openWallets(ctx context.Context, chainID *big.Int) error {
	a.Registry = wallet.NewRegistry()

	if a.Config.WalletKey != "" {
		signer, err := eth.SignerFromHex(a.Config.WalletKey)
		if err != nil {
			return err
		}
		var nonces ports.NonceSource
		if a.Chain != nil {
			nonces = a.Chain
		}
		a.Local = wallet.NewLocalProvider(signer, chainID, nonces)
		// The operator configured this key, so its account is already trusted.
		a.Local.Remember()
		a.Registry.Announce(core.ProviderInfo{
			UUID: stableID("local:" + signer.Address().Hex()),
			Name: "Local Key",
			RDNS: "local.onerecurr",
		}, a.Local)
	}

	if a.Config.WalletRPCURL != "" {
		remote, err := wallet.DialRPCProvider(ctx, a.Config.WalletRPCURL)
		if err != nil {
			return err
		}
		a.remote = remote
		a.Registry.Announce(core.ProviderInfo{
			UUID: stableID("rpc:" + a.Config.WalletRPCURL),
			Name: "Remote Signer",
			RDNS: "rpc.onerecurr",
		}, remote)
	}

	a.Wallet = service.NewWalletService(a.Registry, a.Store, a.Config.Preference, a.Log)
	return nil
}

// stableID derives a provider id that survives restarts, so the persisted
// wallet selection can be matched by AutoReconnect.
func stableID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Resume reconnects the last wallet without prompting. The connect event
// restores that account's stored session.
func (a *App) Resume(ctx context.Context) (bool, error) {
	reconnected, err := a.Wallet.AutoReconnect(ctx)
	if err != nil {
		return false, err
	}
	if reconnected {
		a.Log.WithFields(logrus.Fields{
			"account": a.Wallet.State().Account.Hex(),
			"session": a.Sessions.IsActive(),
		}).Info("wallet resumed")
	}
	return reconnected, nil
}

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	return transport.SetupRouter(transport.Services{
		Registry: a.Registry,
		Wallet:   a.Wallet,
		Sessions: a.Sessions,
		Auth:     a.Auth,
		Channels: a.Channels,
		Relay:    a.Relay,
		Actions:  a.Actions,
		Prices:   a.Prices,
	}, transport.RateLimit{Rate: rate.Limit(a.Config.RateLimit), Burst: a.Config.RateBurst})
}

// Close releases connections. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.Channels != nil {
		a.Channels.Close()
	}
	if a.Relay != nil {
		a.Relay.Disconnect()
	}
	if a.remote != nil {
		a.remote.Close()
		a.remote = nil
	}
	if a.Chain != nil {
		a.Chain.Close()
		a.Chain = nil
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
		a.publisher = nil
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	return errors.Join(errs...)
}
