// Package chain reads account balances from an EVM JSON-RPC endpoint.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/amadeodlp/cryptara/internal/domain"
)

const nativeDecimals = 18

var (
	// keccak256("balanceOf(address)")[:4]
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}
	// keccak256("decimals()")[:4]
	decimalsSelector = []byte{0x31, 0x3c, 0xe5, 0x67}
)

// Backend is the subset of *ethclient.Client the Reader needs.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader implements domain.ChainReader at the latest block.
type Reader struct {
	backend Backend
	closer  func()
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	return &Reader{backend: client, closer: client.Close}, nil
}

// NewReader wraps an existing backend.
func NewReader(b Backend) *Reader {
	return &Reader{backend: b}
}

// Close releases the RPC connection.
func (r *Reader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// NativeBalance returns the ether balance of address.
func (r *Reader) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := r.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: balance of %s: %w", addr.Hex(), err)
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

// TokenBalance returns the ERC-20 balance of address scaled by the
// contract's decimals.
func (r *Reader) TokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	token, err := parseAddress(contract)
	if err != nil {
		return decimal.Zero, err
	}

	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
	raw, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: balanceOf on %s: %w", token.Hex(), err)
	}
	if len(raw) < 32 {
		return decimal.Zero, fmt.Errorf("chain: balanceOf on %s: short result (%d bytes)", token.Hex(), len(raw))
	}
	amount := new(big.Int).SetBytes(raw[:32])

	raw, err = r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decimalsSelector}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: decimals on %s: %w", token.Hex(), err)
	}
	if len(raw) < 32 {
		return decimal.Zero, fmt.Errorf("chain: decimals on %s: short result (%d bytes)", token.Hex(), len(raw))
	}
	dec := new(big.Int).SetBytes(raw[:32])
	if !dec.IsInt64() || dec.Int64() > 77 {
		return decimal.Zero, fmt.Errorf("chain: decimals on %s: out of range", token.Hex())
	}
	return decimal.NewFromBigInt(amount, -int32(dec.Int64())), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a hex address", domain.ErrInvalidArgument, s)
	}
	return common.HexToAddress(s), nil
}

var _ domain.ChainReader = (*Reader)(nil)
