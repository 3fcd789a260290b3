package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"constant": false, "inputs": [{"name": "to", "type": "address"}, {"name": "amount", "type": "uint256"}], "name": "transfer", "outputs": [{"name": "", "type": "bool"}], "type": "function"},
	{"constant": true, "inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"name": "", "type": "uint256"}], "type": "function"}
]`

// The reward token mints a fixed amount per recipient and remembers every
// payment reference it has minted against.
const rewardTokenABIJSON = `[
	{"constant": false, "inputs": [{"name": "to", "type": "address[]"}, {"name": "paymentRefs", "type": "bytes32[]"}], "name": "batchMint", "outputs": [], "type": "function"},
	{"constant": true, "inputs": [{"name": "paymentRef", "type": "bytes32"}], "name": "isPaymentProcessed", "outputs": [{"name": "", "type": "bool"}], "type": "function"}
]`

var (
	erc20ABI       = mustParseABI(erc20ABIJSON)
	rewardTokenABI = mustParseABI(rewardTokenABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
