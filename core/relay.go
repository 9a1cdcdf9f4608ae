package core

import "encoding/json"

// ConnectionStatus is the relay connection state.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// RelayFrame is an inbound relay message with the fields the client looks at.
type RelayFrame struct {
	Raw       json.RawMessage
	Type      string
	Method    string
	ID        int64
	ChannelID string
	Error     string
}

// IsError reports whether the relay answered with an error.
func (f RelayFrame) IsError() bool { return f.Error != "" }
