// Package contracts holds the ABIs of the ActionExecutor and PriceCheckHook
// contracts and the helpers to call them.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ActionExecutorABI = `[
	{"type":"function","name":"actionCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"performAction","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"ActionPerformed","anonymous":false,"inputs":[
		{"name":"caller","type":"address","indexed":true},
		{"name":"newCount","type":"uint256","indexed":false}
	]}
]`

const PriceCheckHookABI = `[
	{"type":"function","name":"BASIS_POINTS","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"minPriceThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"maxPriceThreshold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getThresholds","stateMutability":"view","inputs":[],"outputs":[
		{"name":"minThreshold","type":"uint256"},
		{"name":"maxThreshold","type":"uint256"}
	]},
	{"type":"function","name":"checkPrice","stateMutability":"view","inputs":[
		{"name":"proposedPrice","type":"uint256"},
		{"name":"oraclePrice","type":"uint256"}
	],"outputs":[
		{"name":"isValid","type":"bool"},
		{"name":"minAcceptable","type":"uint256"},
		{"name":"maxAcceptable","type":"uint256"}
	]},
	{"type":"function","name":"validateSwapPrice","stateMutability":"nonpayable","inputs":[
		{"name":"proposedPrice","type":"uint256"},
		{"name":"oraclePrice","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setThresholds","stateMutability":"nonpayable","inputs":[
		{"name":"newMin","type":"uint256"},
		{"name":"newMax","type":"uint256"}
	],"outputs":[]},
	{"type":"event","name":"PriceValidated","anonymous":false,"inputs":[
		{"name":"proposedPrice","type":"uint256","indexed":false},
		{"name":"oraclePrice","type":"uint256","indexed":false},
		{"name":"isValid","type":"bool","indexed":false},
		{"name":"withinBounds","type":"bool","indexed":false}
	]},
	{"type":"event","name":"ThresholdsUpdated","anonymous":false,"inputs":[
		{"name":"oldMin","type":"uint256","indexed":false},
		{"name":"oldMax","type":"uint256","indexed":false},
		{"name":"newMin","type":"uint256","indexed":false},
		{"name":"newMax","type":"uint256","indexed":false},
		{"name":"updatedBy","type":"address","indexed":true}
	]}
]`

var (
	ActionExecutor = mustParse(ActionExecutorABI)
	PriceCheckHook = mustParse(PriceCheckHookABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
