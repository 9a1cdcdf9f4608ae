package core

import "errors"

var (
	// Wallet
	ErrNoWalletConnected = errors.New("no wallet connected")
	ErrNoWalletAvailable = errors.New("no wallet available")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrUnsupportedMethod = errors.New("wallet does not support method")

	// Session
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrNoActiveSession     = errors.New("no active session")
	ErrSessionCorrupt      = errors.New("stored session is corrupt")

	// Channel
	ErrChannelNotOpen      = errors.New("channel is not open")
	ErrChannelAlreadyOpen  = errors.New("channel is already open")
	ErrInsufficientBalance = errors.New("insufficient channel balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid ethereum address")

	// Relay
	ErrNotConnected         = errors.New("not connected to relay")
	ErrMaxReconnectAttempts = errors.New("max reconnection attempts reached")
	ErrRelayRejected        = errors.New("relay rejected the request")

	// Contracts
	ErrInvalidThresholds = errors.New("invalid price thresholds")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrTransactionFailed = errors.New("transaction failed")

	// API tokens
	ErrTokenExpired = errors.New("token has expired")
	ErrInvalidToken = errors.New("invalid token")

	// Storage
	ErrKeyNotFound          = errors.New("key not found")
	ErrStoreOperationFailed = errors.New("store operation failed")
)
