// Package web3 houses blockchain connectivity used by the wizard backend.
// The ethereum subpackage dials an EVM compatible RPC endpoint and reads
// ERC20 balances so the sell flow can offer on-chain holdings instead of
// the amounts recorded at launch time.
package web3
