package core

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TipStatus is the settlement state of a tip.
type TipStatus string

const (
	TipPending   TipStatus = "pending"
	TipConfirmed TipStatus = "confirmed"
	TipFailed    TipStatus = "failed"
)

// Tip is an off-chain payment sent over an open channel.
type Tip struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Recipient common.Address  `json:"recipient"`
	Timestamp time.Time       `json:"timestamp"`
	Status    TipStatus       `json:"status"`
}

// Channel is the client's view of the payment channel. History is newest-first.
type Channel struct {
	ID        string          `json:"channel_id"`
	RequestID int64           `json:"request_id,omitempty"`
	Recipient common.Address  `json:"recipient"`
	Balance   decimal.Decimal `json:"balance"`
	Open      bool            `json:"is_open"`
	History   []Tip           `json:"history"`
}

// EmptyChannel is the closed state: zero balance, no history.
func EmptyChannel() Channel {
	return Channel{Balance: decimal.Zero, History: []Tip{}}
}

// Clone returns a copy whose history can be mutated independently.
func (c Channel) Clone() Channel {
	out := c
	out.History = append([]Tip(nil), c.History...)
	if out.History == nil {
		out.History = []Tip{}
	}
	return out
}

// MarshalJSON renders the balance with two fraction digits.
func (c Channel) MarshalJSON() ([]byte, error) {
	type alias Channel
	return json.Marshal(struct {
		alias
		Balance string `json:"balance"`
	}{alias: alias(c), Balance: c.Balance.StringFixed(2)})
}

// ChannelEvent is published on channel transitions.
type ChannelEvent struct {
	Type      string `json:"type"` // opened | tip | closed | reset | reconciled
	ChannelID string `json:"channel_id"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Balance   string `json:"balance"`
}
