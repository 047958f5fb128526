package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"SonicPilot/internal/web3"
)

// Config describes how to reach an EVM compatible node.
type Config struct {
	RPCURL string
}

// chainBackend mirrors the subset of ethclient.Client used for balance reads.
type chainBackend interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client implements web3.BalanceReader for EVM compatible chains.
type Client struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   chainBackend

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接区块链节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)
	return &Client{
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		decimals:  make(map[common.Address]uint8),
	}, nil
}

// NewBackendClient wraps an existing backend, typically a test double.
func NewBackendClient(backend chainBackend) *Client {
	return &Client{backend: backend, decimals: make(map[common.Address]uint8)}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
	c.backend = nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend := c.chain()
	if backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的区块链客户端")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
	}, nil
}

// TokenBalance returns owner's balance of token in whole units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (decimal.Decimal, error) {
	backend := c.chain()
	if backend == nil {
		return decimal.Zero, errors.New("未初始化的区块链客户端")
	}
	dec, err := c.tokenDecimals(ctx, backend, token)
	if err != nil {
		return decimal.Zero, err
	}

	out, err := call(ctx, backend, token, "balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("balanceOf 返回类型异常: %T", out[0])
	}
	return decimal.NewFromBigInt(raw, -int32(dec)), nil
}

func (c *Client) tokenDecimals(ctx context.Context, backend chainBackend, token common.Address) (uint8, error) {
	c.mu.Lock()
	dec, ok := c.decimals[token]
	c.mu.Unlock()
	if ok {
		return dec, nil
	}

	out, err := call(ctx, backend, token, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok = out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals 返回类型异常: %T", out[0])
	}

	c.mu.Lock()
	c.decimals[token] = dec
	c.mu.Unlock()
	return dec, nil
}

func call(ctx context.Context, backend chainBackend, token common.Address, method string, args ...any) ([]any, error) {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	output, err := backend.CallContract(ctx, gethcore.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 %s 失败: %w", method, err)
	}
	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("解析 %s 返回值失败: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return values, nil
}

func (c *Client) chain() chainBackend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.BalanceReader = (*Client)(nil)
