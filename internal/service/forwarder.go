package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vaultgate/vaultgate/internal/config"
)

// VaultForwarder executes a transaction "as" the vault, using the module
// rights the gateway holds over it. A forwarding failure must propagate as
// a hard error, never be swallowed.
type VaultForwarder interface {
	Forward(ctx context.Context, target common.Address, value *big.Int, payload []byte) (txHash string, err error)
	Owners(ctx context.Context) ([]common.Address, error)
	Threshold(ctx context.Context) (*big.Int, error)
}

const safeModuleABIJSON = `[
	{"name":"execTransactionFromModule","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],"outputs":[{"name":"success","type":"bool"}]},
	{"name":"getOwners","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"getThreshold","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var safeModuleABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(safeModuleABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// EVMForwarder forwards calls through the vault's module interface over an
// EVM RPC endpoint. The client is dialed lazily; each attempt gets its own
// timeout and failed attempts are retried with backoff.
type EVMForwarder struct {
	rpcURL  string
	vault   common.Address
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	timeout time.Duration
	retries int

	mu     sync.Mutex
	client *ethclient.Client
}

func NewEVMForwarder(cfg config.ChainConfig) (*EVMForwarder, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("rpc url not configured")
	}
	if !common.IsHexAddress(cfg.VaultAddress) {
		return nil, fmt.Errorf("invalid vault address")
	}
	pk := strings.TrimPrefix(strings.TrimSpace(cfg.ModulePrivateKey), "0x")
	key, err := crypto.HexToECDSA(pk)
	if err != nil {
		return nil, fmt.Errorf("invalid module private key: %w", err)
	}
	timeout := time.Duration(cfg.CallTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.CallRetries
	if retries < 0 {
		retries = 0
	}
	return &EVMForwarder{
		rpcURL:  strings.TrimSpace(cfg.RPCURL),
		vault:   common.HexToAddress(cfg.VaultAddress),
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		timeout: timeout,
		retries: retries,
	}, nil
}

func (f *EVMForwarder) Forward(ctx context.Context, target common.Address, value *big.Int, payload []byte) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	data, err := safeModuleABI.Pack("execTransactionFromModule", target, value, payload, uint8(0))
	if err != nil {
		return "", fmt.Errorf("failed to pack module call: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		hash, err := f.sendOnce(attemptCtx, data)
		cancel()
		if err == nil {
			return hash, nil
		}
		lastErr = err
		if !forwardShouldRetry(ctx, attempt, f.retries) {
			break
		}
	}
	return "", lastErr
}

func (f *EVMForwarder) sendOnce(ctx context.Context, data []byte) (string, error) {
	client, err := f.getClient(ctx)
	if err != nil {
		return "", err
	}
	nonce, err := client.PendingNonceAt(ctx, f.from)
	if err != nil {
		return "", fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: f.from,
		To:   &f.vault,
		Data: data,
	})
	if err != nil {
		// estimation failing usually means the module call would revert
		return "", fmt.Errorf("vault call estimation failed: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &f.vault,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(f.chainID), f.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign vault transaction: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send vault transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Owners is read-only informational use; never part of an authorization
// decision in the gateway.
func (f *EVMForwarder) Owners(ctx context.Context) ([]common.Address, error) {
	var owners []common.Address
	err := f.viewCall(ctx, "getOwners", func(out []interface{}) error {
		parsed, ok := out[0].([]common.Address)
		if !ok {
			return fmt.Errorf("unexpected getOwners output")
		}
		owners = parsed
		return nil
	})
	return owners, err
}

func (f *EVMForwarder) Threshold(ctx context.Context) (*big.Int, error) {
	var threshold *big.Int
	err := f.viewCall(ctx, "getThreshold", func(out []interface{}) error {
		parsed, ok := out[0].(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected getThreshold output")
		}
		threshold = parsed
		return nil
	})
	return threshold, err
}

func (f *EVMForwarder) viewCall(ctx context.Context, method string, decode func([]interface{}) error) error {
	data, err := safeModuleABI.Pack(method)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", method, err)
	}
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	client, err := f.getClient(callCtx)
	if err != nil {
		return err
	}
	output, err := client.CallContract(callCtx, ethereum.CallMsg{To: &f.vault, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("rpc call failed: %w", err)
	}
	out, err := safeModuleABI.Unpack(method, output)
	if err != nil || len(out) != 1 {
		return fmt.Errorf("failed to decode %s output", method)
	}
	return decode(out)
}

func (f *EVMForwarder) getClient(ctx context.Context) (*ethclient.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	client, err := ethclient.DialContext(ctx, f.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect rpc: %w", err)
	}
	f.client = client
	return f.client, nil
}

func forwardShouldRetry(ctx context.Context, attempt, max int) bool {
	if attempt >= max {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	default:
	}
	time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	return true
}

// DryRunForwarder is used when no RPC endpoint is configured: the pipeline
// runs end to end, but nothing leaves the gateway. The pseudo tx hash is the
// keccak of the would-be module call.
type DryRunForwarder struct {
	vault common.Address
}

func NewDryRunForwarder(vault common.Address) *DryRunForwarder {
	return &DryRunForwarder{vault: vault}
}

func (f *DryRunForwarder) Forward(ctx context.Context, target common.Address, value *big.Int, payload []byte) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	data, err := safeModuleABI.Pack("execTransactionFromModule", target, value, payload, uint8(0))
	if err != nil {
		return "", fmt.Errorf("failed to pack module call: %w", err)
	}
	return crypto.Keccak256Hash(data).Hex(), nil
}

func (f *DryRunForwarder) Owners(ctx context.Context) ([]common.Address, error) {
	return nil, fmt.Errorf("rpc url not configured")
}

func (f *DryRunForwarder) Threshold(ctx context.Context) (*big.Int, error) {
	return nil, fmt.Errorf("rpc url not configured")
}
