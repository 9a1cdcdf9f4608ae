package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/layer-3/onerecurr/adapters/events"
	"github.com/layer-3/onerecurr/adapters/metrics"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PendingOpen is the channel_open request awaiting a relay answer.
type PendingOpen struct {
	RequestID     int64
	PlaceholderID string
}

// Reconciler maps an inbound relay frame onto the channel state. It returns the
// new state and true when the frame answered the pending open request.
type Reconciler func(frame core.RelayFrame, pending *PendingOpen, state core.Channel) (core.Channel, bool)

// DefaultReconciler replaces the placeholder id with the relay's channel id, and
// reverts the optimistic open when the relay rejects the request.
func DefaultReconciler(frame core.RelayFrame, pending *PendingOpen, state core.Channel) (core.Channel, bool) {
	if pending == nil || !state.Open || frame.ID != pending.RequestID {
		return state, false
	}
	if frame.IsError() {
		return core.EmptyChannel(), true
	}
	if frame.ChannelID != "" {
		state.ID = frame.ChannelID
		return state, true
	}
	return state, false
}

type openParams struct {
	Participants []common.Address `json:"participants"`
	Deposit      string           `json:"deposit"`
	AppAddress   common.Address   `json:"appAddress"`
}

type openRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  openParams `json:"params"`
	ID      int64      `json:"id"`
}

type signedOpen struct {
	openRequest
	Signature hexutil.Bytes `json:"signature"`
}

type payment struct {
	Type      string         `json:"type"`
	ChannelID string         `json:"channelId"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    string         `json:"amount"`
	Timestamp int64          `json:"timestamp"`
}

type signedPayment struct {
	payment
	Signature hexutil.Bytes `json:"signature"`
}

type closeChannel struct {
	Type         string `json:"type"`
	ChannelID    string `json:"channelId"`
	FinalBalance string `json:"finalBalance"`
	Timestamp    int64  `json:"timestamp"`
}

type signedClose struct {
	closeChannel
	Signature hexutil.Bytes `json:"signature"`
}

// ChannelOption customizes a ChannelService.
type ChannelOption func(*ChannelService)

func WithReconciler(r Reconciler) ChannelOption {
	return func(s *ChannelService) { s.reconciler = r }
}

func WithChannelClock(c core.Clock) ChannelOption {
	return func(s *ChannelService) { s.clock = c }
}

func WithChannelEvents(pub ports.EventPublisher) ChannelOption {
	return func(s *ChannelService) { s.events = pub }
}

func WithChannelLogger(log logrus.FieldLogger) ChannelOption {
	return func(s *ChannelService) { s.log = componentLogger(log, "channel") }
}

// ChannelService runs the open / tip / close protocol over the relay. Local
// state changes optimistically; relay answers are applied by the Reconciler.
type ChannelService struct {
	relay      ports.Relay
	signer     ports.SessionSigner
	appAddress common.Address

	reconciler Reconciler
	events     ports.EventPublisher
	clock      core.Clock
	log        logrus.FieldLogger

	mu      sync.Mutex
	state   core.Channel
	pending *PendingOpen
	lastErr error
	lastReq int64

	subs []ports.Subscription
}

// NewChannelService subscribes to relay frames and status changes. Call Close
// to detach.
func NewChannelService(relay ports.Relay, signer ports.SessionSigner, appAddress common.Address, opts ...ChannelOption) *ChannelService {
	s := &ChannelService{
		relay:      relay,
		signer:     signer,
		appAddress: appAddress,
		reconciler: DefaultReconciler,
		events:     events.Nop{},
		clock:      core.SystemClock{},
		log:        componentLogger(nil, "channel"),
		state:      core.EmptyChannel(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.subs = []ports.Subscription{
		relay.Subscribe(s.handleFrame),
		relay.OnStatus(s.handleStatus),
	}
	return s
}

// Close detaches from the relay.
func (s *ChannelService) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

// State returns a copy of the channel.
func (s *ChannelService) State() core.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// LastError returns the most recent relay rejection, if any.
func (s *ChannelService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// OpenChannel signs and sends a channel_open request, then marks the channel
// open under a placeholder id.
func (s *ChannelService) OpenChannel(ctx context.Context, recipient string, deposit string) (ch core.Channel, err error) {
	defer func() { metrics.ChannelOp("open", err) }()

	if !common.IsHexAddress(recipient) {
		return core.Channel{}, fmt.Errorf("%w: %q", core.ErrInvalidAddress, recipient)
	}
	amount, err := decimal.NewFromString(deposit)
	if err != nil || amount.IsNegative() {
		return core.Channel{}, fmt.Errorf("%w: deposit %q", core.ErrInvalidAmount, deposit)
	}
	to := common.HexToAddress(recipient)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Open {
		return core.Channel{}, core.ErrChannelAlreadyOpen
	}
	from, err := s.signer.SessionAddress()
	if err != nil {
		return core.Channel{}, err
	}

	reqID := s.nextRequestID()
	req := openRequest{
		JSONRPC: "2.0",
		Method:  "channel_open",
		Params: openParams{
			Participants: []common.Address{from, to},
			Deposit:      deposit,
			AppAddress:   s.appAddress,
		},
		ID: reqID,
	}
	sig, err := s.sign(req)
	if err != nil {
		return core.Channel{}, err
	}
	if err := s.relay.Send(signedOpen{openRequest: req, Signature: sig}); err != nil {
		return core.Channel{}, fmt.Errorf("failed to send channel_open: %w", err)
	}

	s.state = core.Channel{
		ID:        "channel_" + uuid.NewString(),
		RequestID: reqID,
		Recipient: to,
		Balance:   amount,
		Open:      true,
		History:   []core.Tip{},
	}
	s.pending = &PendingOpen{RequestID: reqID, PlaceholderID: s.state.ID}
	s.lastErr = nil

	s.log.WithFields(logrus.Fields{
		"channel_id": s.state.ID,
		"recipient":  to.Hex(),
		"deposit":    amount.String(),
	}).Info("channel opened")
	s.publishLocked(ctx, "opened", "")
	return s.state.Clone(), nil
}

// SendTip signs and sends a payment, then decrements the balance and records
// a confirmed tip without waiting for the relay.
func (s *ChannelService) SendTip(ctx context.Context, amount string) (tip core.Tip, err error) {
	defer func() { metrics.ChannelOp("tip", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Open {
		return core.Tip{}, core.ErrChannelNotOpen
	}
	value, err := decimal.NewFromString(amount)
	if err != nil || !value.IsPositive() {
		return core.Tip{}, fmt.Errorf("%w: %q", core.ErrInvalidAmount, amount)
	}
	if value.GreaterThan(s.state.Balance) {
		return core.Tip{}, fmt.Errorf("%w: balance %s, tip %s", core.ErrInsufficientBalance, s.state.Balance.StringFixed(2), value.String())
	}
	from, err := s.signer.SessionAddress()
	if err != nil {
		return core.Tip{}, err
	}

	now := s.clock.Now()
	msg := payment{
		Type:      "payment",
		ChannelID: s.state.ID,
		From:      from,
		To:        s.state.Recipient,
		Amount:    amount,
		Timestamp: now.UnixMilli(),
	}
	sig, err := s.sign(msg)
	if err != nil {
		return core.Tip{}, err
	}
	if err := s.relay.Send(signedPayment{payment: msg, Signature: sig}); err != nil {
		return core.Tip{}, fmt.Errorf("failed to send payment: %w", err)
	}

	tip = core.Tip{
		ID:        "tip_" + uuid.NewString(),
		Amount:    value,
		Recipient: s.state.Recipient,
		Timestamp: now,
		Status:    core.TipConfirmed,
	}
	s.state.Balance = s.state.Balance.Sub(value)
	s.state.History = append([]core.Tip{tip}, s.state.History...)

	s.log.WithFields(logrus.Fields{
		"channel_id": s.state.ID,
		"amount":     value.String(),
		"balance":    s.state.Balance.StringFixed(2),
	}).Info("tip sent")
	s.publishLocked(ctx, "tip", value.String())
	return tip, nil
}

// CloseChannel signs and sends close_channel and resets the channel regardless
// of the relay's answer.
func (s *ChannelService) CloseChannel(ctx context.Context) (err error) {
	defer func() { metrics.ChannelOp("close", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Open {
		return core.ErrChannelNotOpen
	}

	msg := closeChannel{
		Type:         "close_channel",
		ChannelID:    s.state.ID,
		FinalBalance: s.state.Balance.StringFixed(2),
		Timestamp:    s.clock.Now().UnixMilli(),
	}
	sig, err := s.sign(msg)
	if err != nil {
		return err
	}
	if err := s.relay.Send(signedClose{closeChannel: msg, Signature: sig}); err != nil {
		return fmt.Errorf("failed to send close_channel: %w", err)
	}

	s.log.WithField("channel_id", s.state.ID).Info("channel closed")
	s.publishLocked(ctx, "closed", "")
	s.resetLocked()
	return nil
}

func (s *ChannelService) handleFrame(frame core.RelayFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return
	}
	next, ok := s.reconciler(frame, s.pending, s.state.Clone())
	if !ok {
		return
	}

	pending := s.pending
	s.pending = nil
	s.state = next
	if frame.IsError() {
		s.lastErr = fmt.Errorf("%w: %s", core.ErrRelayRejected, frame.Error)
		s.log.WithError(s.lastErr).WithField("request_id", pending.RequestID).Warn("relay rejected channel open")
	} else {
		s.log.WithFields(logrus.Fields{
			"placeholder": pending.PlaceholderID,
			"channel_id":  s.state.ID,
		}).Info("channel reconciled")
	}
	s.publishLocked(context.Background(), "reconciled", "")
}

// handleStatus drops the channel when an established relay connection is lost.
func (s *ChannelService) handleStatus(prev, next core.ConnectionStatus) {
	if prev != core.StatusConnected || next != core.StatusDisconnected {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Open {
		return
	}
	s.log.WithField("channel_id", s.state.ID).Warn("relay disconnected, resetting channel")
	s.publishLocked(context.Background(), "reset", "")
	s.resetLocked()
}

func (s *ChannelService) resetLocked() {
	s.state = core.EmptyChannel()
	s.pending = nil
}

// sign returns the session key's EIP-191 signature over the JSON encoding of v.
func (s *ChannelService) sign(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return s.signer.SignWithSessionKey(payload)
}

// nextRequestID is the current unix millisecond, kept strictly increasing.
func (s *ChannelService) nextRequestID() int64 {
	id := s.clock.Now().UnixMilli()
	if id <= s.lastReq {
		id = s.lastReq + 1
	}
	s.lastReq = id
	return id
}

func (s *ChannelService) publishLocked(ctx context.Context, typ, amount string) {
	ev := core.ChannelEvent{
		Type:      typ,
		ChannelID: s.state.ID,
		Amount:    amount,
		Balance:   s.state.Balance.StringFixed(2),
	}
	if s.state.Recipient != (common.Address{}) {
		ev.Recipient = s.state.Recipient.Hex()
	}
	if err := s.events.PublishChannel(ctx, ev); err != nil {
		s.log.WithError(err).Warn("failed to publish channel event")
	}
}
