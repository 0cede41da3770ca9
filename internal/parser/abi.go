package parser

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the protocol families the gateway ships parsers
// for. Parsers only decode the methods listed here; anything else is a parse
// failure.

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const swapRouterABIJSON = `[
	{"name":"exactInputSingle","type":"function","inputs":[{"name":"params","type":"tuple","components":[
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"recipient","type":"address"},
		{"name":"deadline","type":"uint256"},
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMinimum","type":"uint256"},
		{"name":"sqrtPriceLimitX96","type":"uint160"}
	]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

const lendingPoolABIJSON = `[
	{"name":"supply","type":"function","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"name":"withdraw","type":"function","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"claimAllRewards","type":"function","inputs":[{"name":"assets","type":"address[]"},{"name":"to","type":"address"}],"outputs":[]}
]`

const shareVaultABIJSON = `[
	{"name":"deposit","type":"function","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
	{"name":"withdraw","type":"function","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]}
]`

var (
	erc20ABI       = mustABI(erc20ABIJSON)
	swapRouterABI  = mustABI(swapRouterABIJSON)
	lendingPoolABI = mustABI(lendingPoolABIJSON)
	shareVaultABI  = mustABI(shareVaultABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func selectorOfMethod(parsed abi.ABI, name string) Selector {
	var sel Selector
	copy(sel[:], parsed.Methods[name].ID)
	return sel
}

// PackTransfer builds ERC20 transfer calldata for the direct-transfer path.
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// PackApprove builds ERC20 approve calldata for the approval path.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

func toAddress(v interface{}) (common.Address, bool) {
	addr, ok := v.(common.Address)
	return addr, ok
}

func toBigInt(v interface{}) (*big.Int, bool) {
	n, ok := v.(*big.Int)
	return n, ok
}
