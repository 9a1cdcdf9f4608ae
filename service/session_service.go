package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/layer-3/onerecurr/adapters/events"
	"github.com/layer-3/onerecurr/adapters/metrics"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

const (
	keySessionKey    = "oneRecurr_sessionKey_"
	keyAuthorization = "oneRecurr_authorization_"
	keyCreatedAt     = "oneRecurr_createdAt_"
)

// storedAuthorization is the persisted form of the delegation proof.
type storedAuthorization struct {
	Account   common.Address           `json:"account"`
	ChainID   *hexutil.Big             `json:"chainId"`
	Address   common.Address           `json:"address"`
	Nonce     hexutil.Uint64           `json:"nonce"`
	Signature hexutil.Bytes            `json:"signature"`
	Scheme    core.AuthorizationScheme `json:"scheme"`
}

// SessionOption customizes a SessionService.
type SessionOption func(*SessionService)

func WithSessionExpiry(d time.Duration) SessionOption {
	return func(s *SessionService) { s.expiry = d }
}

func WithSessionClock(c core.Clock) SessionOption {
	return func(s *SessionService) { s.clock = c }
}

// WithSealer encrypts the session key at rest.
func WithSealer(sealer ports.Sealer) SessionOption {
	return func(s *SessionService) { s.sealer = sealer }
}

func WithSessionEvents(pub ports.EventPublisher) SessionOption {
	return func(s *SessionService) { s.events = pub }
}

func WithSessionLogger(log logrus.FieldLogger) SessionOption {
	return func(s *SessionService) { s.log = componentLogger(log, "session") }
}

// SessionService manages the ephemeral key delegated by the connected account
// to act on one contract. The in-memory session is authoritative; the store
// holds a write-through copy used only by RestoreSession.
type SessionService struct {
	wallet   ports.Wallet
	store    ports.Store
	contract common.Address

	sealer ports.Sealer
	events ports.EventPublisher
	clock  core.Clock
	expiry time.Duration
	log    logrus.FieldLogger

	mu          sync.RWMutex
	session     *core.Session
	restoredFor common.Address
}

var _ ports.SessionSigner = (*SessionService)(nil)

// NewSessionService creates a session manager for contract.
func NewSessionService(wallet ports.Wallet, store ports.Store, contract common.Address, opts ...SessionOption) *SessionService {
	s := &SessionService{
		wallet:   wallet,
		store:    store,
		contract: contract,
		events:   events.Nop{},
		clock:    core.SystemClock{},
		expiry:   core.DefaultSessionExpiry,
		log:      componentLogger(nil, "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Contract returns the contract sessions are scoped to.
func (s *SessionService) Contract() common.Address { return s.contract }

// CreateSession generates a fresh key and asks the connected wallet to sign
// the delegation. Any existing session is replaced.
func (s *SessionService) CreateSession(ctx context.Context) (core.SessionStatus, error) {
	account, err := s.wallet.Account()
	if err != nil {
		return core.SessionStatus{}, err
	}

	chainID := s.wallet.ChainID()
	if chainID == nil {
		if chainID, err = s.wallet.RefreshChainID(ctx); err != nil {
			return core.SessionStatus{}, fmt.Errorf("%w: failed to read chain id: %w", core.ErrAuthorizationDenied, err)
		}
	}

	nonce, err := s.wallet.TransactionCount(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to fetch nonce, using 0")
		nonce = 0
	}

	key, err := eth.GenerateSigner()
	if err != nil {
		return core.SessionStatus{}, err
	}

	auth, err := s.requestAuthorization(ctx, account, chainID, nonce)
	if err != nil {
		return core.SessionStatus{}, err
	}

	now := s.clock.Now()
	session := &core.Session{
		Key:           key.PrivateKey(),
		Account:       account,
		Contract:      s.contract,
		ChainID:       chainID,
		Nonce:         nonce,
		Authorization: auth,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.expiry),
	}

	s.mu.Lock()
	prev := s.session
	s.session = session
	s.restoredFor = account
	s.mu.Unlock()

	if prev != nil {
		s.cleared(ctx, prev, core.ClearReplaced)
	}
	if err := s.persist(ctx, session); err != nil {
		s.log.WithError(err).Warn("failed to persist session")
	}

	metrics.SessionCreated()
	s.publish(ctx, core.SessionEvent{
		Type:           "created",
		Account:        account.Hex(),
		Contract:       s.contract.Hex(),
		SessionAddress: session.Address().Hex(),
		ExpiresAt:      session.ExpiresAt,
	})
	s.log.WithFields(logrus.Fields{
		"account":     account.Hex(),
		"session_key": session.Address().Hex(),
		"expires_at":  session.ExpiresAt,
	}).Info("session created")

	return s.Status(), nil
}

// requestAuthorization tries the direct EIP-7702 signing method first and
// falls back to typed data when the wallet does not implement it.
func (s *SessionService) requestAuthorization(ctx context.Context, account common.Address, chainID *big.Int, nonce uint64) (core.Authorization, error) {
	auth := core.Authorization{ChainID: chainID, Address: s.contract, Nonce: nonce, Scheme: core.SchemeEIP7702}

	raw, err := s.wallet.Request(ctx, "wallet_signAuthorization", account.Hex(), map[string]string{
		"chainId": hexutil.EncodeBig(chainID),
		"address": s.contract.Hex(),
		"nonce":   hexutil.EncodeUint64(nonce),
	})
	if errors.Is(err, core.ErrUnsupportedMethod) {
		s.log.Debug("wallet_signAuthorization unsupported, falling back to typed data")
		auth.Scheme = core.SchemeEIP712

		payload, merr := json.Marshal(eth.AuthorizationTypedData(chainID, s.contract, nonce))
		if merr != nil {
			return core.Authorization{}, merr
		}
		raw, err = s.wallet.Request(ctx, "eth_signTypedData_v4", account.Hex(), string(payload))
	}
	if err != nil {
		return core.Authorization{}, fmt.Errorf("%w: %w", core.ErrAuthorizationDenied, err)
	}

	var sig hexutil.Bytes
	if err := json.Unmarshal(raw, &sig); err != nil || len(sig) != crypto.SignatureLength {
		return core.Authorization{}, fmt.Errorf("%w: malformed signature %s", core.ErrAuthorizationDenied, raw)
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	auth.Signature = sig

	ok, err := eth.VerifySignatureAgainstAddress(auth, account)
	if err != nil {
		return core.Authorization{}, fmt.Errorf("%w: %w", core.ErrAuthorizationDenied, err)
	}
	if !ok {
		return core.Authorization{}, fmt.Errorf("%w: signature is not from %s", core.ErrAuthorizationDenied, account.Hex())
	}
	return auth, nil
}

// ClearSession removes the in-memory and persisted session. It is idempotent.
func (s *SessionService) ClearSession(ctx context.Context) error {
	return s.clear(ctx, core.ClearExplicit)
}

// RestoreSession loads the persisted session for the connected account. It runs
// once per connected-account lifetime; later calls report the current state.
// Expired or malformed data is removed and treated as absent.
func (s *SessionService) RestoreSession(ctx context.Context) (bool, error) {
	account, err := s.wallet.Account()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.restoredFor == account {
		s.mu.Unlock()
		return s.IsActive(), nil
	}
	s.restoredFor = account
	s.mu.Unlock()

	session, reason, err := s.load(ctx, account)
	if err != nil {
		return false, err
	}
	if session == nil {
		if reason != "" {
			s.log.WithField("reason", reason).Info("discarding persisted session")
			s.deleteKeys(ctx)
			metrics.SessionCleared(reason)
		}
		return false, nil
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"account":     account.Hex(),
		"session_key": session.Address().Hex(),
		"expires_at":  session.ExpiresAt,
	}).Info("session restored")
	return true, nil
}

// load reads the persisted session. A nil session with a non-empty reason
// means something was stored but is unusable.
func (s *SessionService) load(ctx context.Context, account common.Address) (*core.Session, core.ClearReason, error) {
	sealedKey, errKey := s.store.Get(ctx, keySessionKey+s.contract.Hex())
	authJSON, errAuth := s.store.Get(ctx, keyAuthorization+s.contract.Hex())
	createdRaw, errCreated := s.store.Get(ctx, keyCreatedAt+s.contract.Hex())

	missing := 0
	for _, err := range []error{errKey, errAuth, errCreated} {
		switch {
		case err == nil:
		case errors.Is(err, core.ErrKeyNotFound):
			missing++
		default:
			return nil, "", err
		}
	}
	switch missing {
	case 3:
		return nil, "", nil
	case 0:
	default:
		return nil, core.ClearCorrupt, nil
	}

	createdMs, err := strconv.ParseInt(createdRaw, 10, 64)
	if err != nil {
		return nil, core.ClearCorrupt, nil
	}
	createdAt := time.UnixMilli(createdMs)
	if s.clock.Now().Sub(createdAt) >= s.expiry {
		return nil, core.ClearExpired, nil
	}

	keyBytes, err := s.openKey(sealedKey)
	if err != nil {
		return nil, core.ClearCorrupt, nil
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, core.ClearCorrupt, nil
	}

	var stored storedAuthorization
	if err := json.Unmarshal([]byte(authJSON), &stored); err != nil || stored.ChainID == nil {
		return nil, core.ClearCorrupt, nil
	}
	if stored.Account != account || stored.Address != s.contract {
		return nil, core.ClearReplaced, nil
	}
	auth := core.Authorization{
		ChainID:   stored.ChainID.ToInt(),
		Address:   stored.Address,
		Nonce:     uint64(stored.Nonce),
		Signature: stored.Signature,
		Scheme:    stored.Scheme,
	}
	if ok, err := eth.VerifySignatureAgainstAddress(auth, account); err != nil || !ok {
		return nil, core.ClearCorrupt, nil
	}

	return &core.Session{
		Key:           key,
		Account:       account,
		Contract:      s.contract,
		ChainID:       auth.ChainID,
		Nonce:         auth.Nonce,
		Authorization: auth,
		CreatedAt:     createdAt,
		ExpiresAt:     createdAt.Add(s.expiry),
	}, "", nil
}

func (s *SessionService) persist(ctx context.Context, session *core.Session) error {
	ttl := session.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}

	keyValue, err := s.sealKey(crypto.FromECDSA(session.Key))
	if err != nil {
		return err
	}
	authJSON, err := json.Marshal(storedAuthorization{
		Account:   session.Account,
		ChainID:   (*hexutil.Big)(session.Authorization.ChainID),
		Address:   session.Authorization.Address,
		Nonce:     hexutil.Uint64(session.Authorization.Nonce),
		Signature: session.Authorization.Signature,
		Scheme:    session.Authorization.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to encode authorization: %w", err)
	}

	entries := []struct{ key, value string }{
		{keySessionKey + s.contract.Hex(), keyValue},
		{keyAuthorization + s.contract.Hex(), string(authJSON)},
		{keyCreatedAt + s.contract.Hex(), strconv.FormatInt(session.CreatedAt.UnixMilli(), 10)},
	}
	for _, e := range entries {
		if err := s.store.Set(ctx, e.key, e.value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionService) sealKey(key []byte) (string, error) {
	if s.sealer == nil {
		return hexutil.Encode(key), nil
	}
	return s.sealer.Seal(key)
}

func (s *SessionService) openKey(value string) ([]byte, error) {
	if s.sealer == nil {
		return hexutil.Decode(value)
	}
	return s.sealer.Open(value)
}

func (s *SessionService) deleteKeys(ctx context.Context) error {
	err := s.store.Delete(ctx,
		keySessionKey+s.contract.Hex(),
		keyAuthorization+s.contract.Hex(),
		keyCreatedAt+s.contract.Hex(),
	)
	if err != nil {
		s.log.WithError(err).Warn("failed to delete persisted session")
	}
	return err
}

func (s *SessionService) clear(ctx context.Context, reason core.ClearReason) error {
	s.mu.Lock()
	prev := s.session
	s.session = nil
	s.mu.Unlock()

	err := s.deleteKeys(ctx)
	if prev != nil {
		s.cleared(ctx, prev, reason)
	}
	return err
}

func (s *SessionService) cleared(ctx context.Context, prev *core.Session, reason core.ClearReason) {
	metrics.SessionCleared(reason)
	s.publish(ctx, core.SessionEvent{
		Type:           "cleared",
		Account:        prev.Account.Hex(),
		Contract:       prev.Contract.Hex(),
		SessionAddress: prev.Address().Hex(),
		Reason:         reason,
	})
	s.log.WithFields(logrus.Fields{
		"account":     prev.Account.Hex(),
		"session_key": prev.Address().Hex(),
		"reason":      reason,
	}).Info("session cleared")
}

func (s *SessionService) publish(ctx context.Context, ev core.SessionEvent) {
	if err := s.events.PublishSession(ctx, ev); err != nil {
		s.log.WithError(err).Warn("failed to publish session event")
	}
}

// IsActive reports whether a session exists and has not expired.
func (s *SessionService) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.ActiveAt(s.clock.Now())
}

// CheckExpiry clears an expired session and reports whether it did. A
// session created while the check runs is left alone.
func (s *SessionService) CheckExpiry(ctx context.Context) bool {
	s.mu.Lock()
	prev := s.session
	if prev == nil || prev.ActiveAt(s.clock.Now()) {
		s.mu.Unlock()
		return false
	}
	s.session = nil
	// Keys are dropped under the lock so a concurrent CreateSession persists after us.
	_ = s.deleteKeys(ctx)
	s.mu.Unlock()

	s.cleared(ctx, prev, core.ClearExpired)
	return true
}

// HandleWalletEvent keeps the session bound to the account that authorized it.
func (s *SessionService) HandleWalletEvent(ev core.WalletEvent) {
	ctx := context.Background()

	switch ev.Type {
	case WalletDisconnected, WalletAccountChanged:
		s.mu.Lock()
		s.restoredFor = common.Address{}
		s.mu.Unlock()
		s.clear(ctx, core.ClearDisconnect)
	}

	switch ev.Type {
	case WalletConnected, WalletAccountChanged:
		if _, err := s.RestoreSession(ctx); err != nil {
			s.log.WithError(err).Warn("failed to restore session")
		}
	}
}

// active returns the current session or ErrNoActiveSession.
func (s *SessionService) active() (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.ActiveAt(s.clock.Now()) {
		return nil, core.ErrNoActiveSession
	}
	return s.session, nil
}

// SessionAddress returns the address of the active session key.
func (s *SessionService) SessionAddress() (common.Address, error) {
	session, err := s.active()
	if err != nil {
		return common.Address{}, err
	}
	return session.Address(), nil
}

// SignWithSessionKey signs message with the EIP-191 prefix.
func (s *SessionService) SignWithSessionKey(message []byte) ([]byte, error) {
	session, err := s.active()
	if err != nil {
		return nil, err
	}
	return eth.SignPersonal(eth.NewLocalSigner(session.Key), message)
}

// Signer returns a transaction signer for the active session key.
func (s *SessionService) Signer() (ports.TxSigner, error) {
	session, err := s.active()
	if err != nil {
		return nil, err
	}
	return eth.NewLocalSigner(session.Key), nil
}

// SignTransaction signs tx with the session key for the session's chain.
func (s *SessionService) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	session, err := s.active()
	if err != nil {
		return nil, err
	}
	return eth.NewLocalSigner(session.Key).SignTransaction(tx, session.ChainID)
}

// Status returns a snapshot of the session.
func (s *SessionService) Status() core.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.session
	if session == nil {
		return core.SessionStatus{Contract: s.contract}
	}
	status := core.SessionStatus{
		Active:         session.ActiveAt(s.clock.Now()),
		SessionAddress: session.Address(),
		Account:        session.Account,
		Contract:       session.Contract,
		Authorization:  session.Authorization.Pack(),
		CreatedAt:      session.CreatedAt,
		ExpiresAt:      session.ExpiresAt,
	}
	if session.ChainID != nil {
		status.ChainID = session.ChainID.String()
	}
	return status
}

// Grant describes the active session for an API bearer token.
func (s *SessionService) Grant() (*core.SessionGrant, error) {
	session, err := s.active()
	if err != nil {
		return nil, err
	}
	return &core.SessionGrant{
		ID:         uuid.NewString(),
		Account:    session.Account,
		SessionKey: session.Address(),
		Contract:   session.Contract,
		IssuedAt:   s.clock.Now(),
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// ValidateGrant checks that grant still refers to the active session.
func (s *SessionService) ValidateGrant(grant *core.SessionGrant) error {
	session, err := s.active()
	if err != nil {
		return err
	}
	if grant.SessionKey != session.Address() || grant.Account != session.Account {
		return core.ErrNoActiveSession
	}
	return nil
}
