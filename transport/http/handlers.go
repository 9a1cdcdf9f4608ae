package http

import (
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/onerecurr/core"
)

// Handlers contains the HTTP handlers for the API
type Handlers struct {
	svc Services
}

// NewHandlers creates new handlers
func NewHandlers(svc Services) *Handlers {
	return &Handlers{svc: svc}
}

// writeError maps domain errors onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUserRejected), errors.Is(err, core.ErrAuthorizationDenied):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrNoWalletAvailable):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrInvalidPrice), errors.Is(err, core.ErrInvalidThresholds):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoWalletConnected), errors.Is(err, core.ErrNoActiveSession),
		errors.Is(err, core.ErrChannelNotOpen), errors.Is(err, core.ErrChannelAlreadyOpen):
		status = http.StatusConflict
	case errors.Is(err, core.ErrTokenExpired), errors.Is(err, core.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrNotConnected), errors.Is(err, core.ErrMaxReconnectAttempts):
		status = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrRelayRejected), errors.Is(err, core.ErrTransactionFailed):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindOptional binds a JSON body when one is present.
func bindOptional(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return false
	}
	return true
}

// Wallet returns the connection state
func (h *Handlers) Wallet(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Wallet.State())
}

// Providers lists the announced wallet providers
func (h *Handlers) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.svc.Registry.Providers()})
}

// ConnectWallet connects to the requested or preferred provider
func (h *Handlers) ConnectWallet(c *gin.Context) {
	var req struct {
		ProviderID string `json:"provider_id"`
	}
	if !bindOptional(c, &req) {
		return
	}

	state, err := h.svc.Wallet.Connect(c.Request.Context(), req.ProviderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// DisconnectWallet drops the connection and the session with it
func (h *Handlers) DisconnectWallet(c *gin.Context) {
	h.svc.Wallet.Disconnect(c.Request.Context())
	c.JSON(http.StatusOK, h.svc.Wallet.State())
}

// CreateSession asks the wallet for a fresh delegation and returns a bearer
// token bound to it
func (h *Handlers) CreateSession(c *gin.Context) {
	status, token, err := h.svc.Auth.Login(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":      status,
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(status.ExpiresAt.Sub(status.CreatedAt).Seconds()),
	})
}

// Session returns the session snapshot
func (h *Handlers) Session(c *gin.Context) {
	h.svc.Sessions.CheckExpiry(c.Request.Context())
	c.JSON(http.StatusOK, h.svc.Sessions.Status())
}

// ClearSession destroys the session
func (h *Handlers) ClearSession(c *gin.Context) {
	if err := h.svc.Sessions.ClearSession(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Sessions.Status())
}

// Logout revokes the caller's token and clears the session
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.svc.Auth.Logout(c.Request.Context(), c.GetString(ctxToken)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Relay returns the relay connection status
func (h *Handlers) Relay(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   h.svc.Relay.Status(),
		"attempts": h.svc.Relay.Attempts(),
		"queued":   h.svc.Relay.Queued(),
	})
}

// ConnectRelay opens the relay connection, resetting the reconnect budget
func (h *Handlers) ConnectRelay(c *gin.Context) {
	if err := h.svc.Relay.Reconnect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.Relay(c)
}

// DisconnectRelay closes the relay connection without reconnecting
func (h *Handlers) DisconnectRelay(c *gin.Context) {
	h.svc.Relay.Disconnect()
	h.Relay(c)
}

// Channel returns the channel state
func (h *Handlers) Channel(c *gin.Context) {
	resp := gin.H{"channel": h.svc.Channels.State()}
	if err := h.svc.Channels.LastError(); err != nil {
		resp["last_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// OpenChannel opens a channel to recipient with deposit
func (h *Handlers) OpenChannel(c *gin.Context) {
	var req struct {
		Recipient string `json:"recipient" binding:"required"`
		Deposit   string `json:"deposit" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ch, err := h.svc.Channels.OpenChannel(c.Request.Context(), req.Recipient, req.Deposit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// SendTip pays amount over the open channel
func (h *Handlers) SendTip(c *gin.Context) {
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	tip, err := h.svc.Channels.SendTip(c.Request.Context(), req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tip": tip, "channel": h.svc.Channels.State()})
}

// CloseChannel settles and resets the channel
func (h *Handlers) CloseChannel(c *gin.Context) {
	if err := h.svc.Channels.CloseChannel(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.svc.Channels.State())
}

// ActionCount reads the counter
func (h *Handlers) ActionCount(c *gin.Context) {
	if h.svc.Actions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chain endpoint not configured"})
		return
	}
	count, err := h.svc.Actions.ActionCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"action_count": count.String()})
}

// PerformAction sends performAction signed by the session key
func (h *Handlers) PerformAction(c *gin.Context) {
	if h.svc.Actions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Chain endpoint not configured"})
		return
	}
	signer, err := h.svc.Sessions.Signer()
	if err != nil {
		writeError(c, err)
		return
	}
	receipt, err := h.svc.Actions.PerformAction(c.Request.Context(), signer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tx_hash":   receipt.TxHash.Hex(),
		"caller":    receipt.Caller.Hex(),
		"new_count": receipt.NewCount.String(),
		"block":     receipt.Block,
	})
}

// Thresholds returns the price bounds in basis points
func (h *Handlers) Thresholds(c *gin.Context) {
	t, err := h.svc.Prices.Thresholds(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// SetThresholds updates the price bounds, signed by the session key
func (h *Handlers) SetThresholds(c *gin.Context) {
	var req core.PriceThresholds
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	signer, err := h.svc.Sessions.Signer()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.svc.Prices.SetThresholds(c.Request.Context(), signer, req); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type priceRequest struct {
	Proposed string `json:"proposed" binding:"required"`
	Oracle   string `json:"oracle" binding:"required"`
}

// parse reads both prices as base-10 integers in the token's smallest unit.
func (r priceRequest) parse() (proposed, oracle *big.Int, ok bool) {
	proposed, ok1 := new(big.Int).SetString(r.Proposed, 10)
	oracle, ok2 := new(big.Int).SetString(r.Oracle, 10)
	return proposed, oracle, ok1 && ok2
}

// ValidateSwapPrice runs the on-chain validation, signed by the session key
func (h *Handlers) ValidateSwapPrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	proposed, oracle, ok := req.parse()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prices must be base-10 integers"})
		return
	}
	signer, err := h.svc.Sessions.Signer()
	if err != nil {
		writeError(c, err)
		return
	}
	valid, err := h.svc.Prices.ValidateSwapPrice(c.Request.Context(), signer, proposed, oracle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// CheckPrice compares a proposed price against an oracle price. Prices are
// base-10 integers in the token's smallest unit.
func (h *Handlers) CheckPrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	proposed, oracle, ok := req.parse()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prices must be base-10 integers"})
		return
	}

	res, err := h.svc.Prices.CheckPrice(c.Request.Context(), proposed, oracle)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":          res.Valid,
		"min_acceptable": res.MinAcceptable.String(),
		"max_acceptable": res.MaxAcceptable.String(),
	})
}
