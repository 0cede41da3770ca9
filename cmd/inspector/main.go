package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vaultgate/vaultgate/internal/parser"
)

// 离线 calldata 检查器：不连链、不走策略，只打印某个解析策略
// 会如何理解一段负载。用于注册解析器前的人工核对。
func main() {
	kind := flag.String("kind", "", "parser kind: "+strings.Join(parser.Kinds(), ", "))
	target := flag.String("target", "", "protocol address (0x...)")
	payload := flag.String("payload", "", "hex calldata (0x...)")
	asset := flag.String("asset", "", "underlying asset for share-vault parsers")
	flag.Parse()

	if *kind == "" || *target == "" || *payload == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !common.IsHexAddress(*target) {
		fatal("target is not a valid address")
	}

	opts := parser.KindOptions{}
	if *asset != "" {
		if !common.IsHexAddress(*asset) {
			fatal("asset is not a valid address")
		}
		opts.Asset = common.HexToAddress(*asset)
	}

	p, err := parser.NewByKind(*kind, opts)
	if err != nil {
		fatal(err.Error())
	}

	data, err := hexutil.Decode(*payload)
	if err != nil {
		fatal("payload is not valid hex: " + err.Error())
	}
	sel, err := parser.SelectorOf(data)
	if err != nil {
		fatal(err.Error())
	}

	targetAddr := common.HexToAddress(*target)

	fmt.Printf("parser:    %s\n", p.Name())
	fmt.Printf("selector:  %s (supported: %v)\n", sel.Hex(), p.SupportsSelector(sel))

	opType, err := p.OperationType(data)
	if err != nil {
		fatal("operation type: " + err.Error())
	}
	fmt.Printf("op type:   %s\n", opType)

	if token, err := p.InputToken(targetAddr, data); err != nil {
		fmt.Printf("input token:   error: %v\n", err)
	} else {
		fmt.Printf("input token:   %s\n", token.Hex())
	}

	if amount, err := p.InputAmount(targetAddr, data); err != nil {
		fmt.Printf("input amount:  error: %v\n", err)
	} else {
		fmt.Printf("input amount:  %s\n", amount)
	}

	if tokens, err := p.OutputTokens(targetAddr, data); err != nil {
		fmt.Printf("output tokens: error: %v\n", err)
	} else {
		hexTokens := make([]string, 0, len(tokens))
		for _, t := range tokens {
			hexTokens = append(hexTokens, t.Hex())
		}
		fmt.Printf("output tokens: %v\n", hexTokens)
	}

	if recipient, err := p.Recipient(targetAddr, data, common.Address{}); err != nil {
		fmt.Printf("recipient:     error: %v\n", err)
	} else {
		fmt.Printf("recipient:     %s\n", recipient.Hex())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "inspector: "+msg)
	os.Exit(1)
}
