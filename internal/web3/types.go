package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainSnapshot summarises the connected network for health reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// BalanceReader reads ERC20 balances scaled by the token's decimals.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (decimal.Decimal, error)
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
