// Package onchain abstracts the minimal contract surface the simulator
// reads before fan-out: pool balances, amplification, fee, virtual price,
// coin addresses, and the live rates of compound/yearn-style rebasing
// tokens. Old pools index coins with int128 instead of uint256; readers
// probe both ABI variants.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrQuery is returned when a contract read fails on every ABI variant.
var ErrQuery = errors.New("on-chain query failed")

const poolABITemplate = `[
  {"name":"A","outputs":[{"type":"uint256","name":""}],"inputs":[],"stateMutability":"view","type":"function"},
  {"name":"balances","outputs":[{"type":"uint256","name":""}],"inputs":[{"type":"%s","name":"arg0"}],"stateMutability":"view","type":"function"},
  {"name":"fee","outputs":[{"type":"uint256","name":""}],"inputs":[],"stateMutability":"view","type":"function"},
  {"name":"get_virtual_price","outputs":[{"type":"uint256","name":""}],"inputs":[],"stateMutability":"view","type":"function"},
  {"name":"coins","outputs":[{"type":"address","name":""}],"inputs":[{"type":"%s","name":"arg0"}],"stateMutability":"view","type":"function"}
]`

const ctokenABI = `[{"constant":true,"inputs":[],"name":"exchangeRateStored","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

const ytokenABI = `[{"constant":true,"inputs":[],"name":"getPricePerFullShare","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}]`

// Querier is the read surface of one live pool.
type Querier interface {
	Balances(ctx context.Context, i int) (*big.Int, error)
	A(ctx context.Context) (*big.Int, error)
	Fee(ctx context.Context) (*big.Int, error)
	VirtualPrice(ctx context.Context) (*big.Int, error)
	Coins(ctx context.Context, i int) (common.Address, error)
}

// RateSource reads the live rate of a rebasing token.
type RateSource interface {
	TokenRate(ctx context.Context, tokenType string, token common.Address) (*big.Int, error)
}

// Client wraps an Ethereum RPC endpoint.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQuery, err)
	}
	return &Client{eth: eth}, nil
}

// NewClient wraps an existing ethclient connection.
func NewClient(eth *ethclient.Client) *Client {
	return &Client{eth: eth}
}

func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: packing %s: %s", ErrQuery, method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrQuery, method, err)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s: %s", ErrQuery, method, err)
	}
	return out, nil
}

// PoolReader implements Querier against one pool contract.
type PoolReader struct {
	client  *Client
	address common.Address
	abi     abi.ABI
}

// NewPoolReader binds a reader to a pool, probing the uint256 and int128
// coin-index ABI variants in that order.
func NewPoolReader(ctx context.Context, client *Client, address common.Address) (*PoolReader, error) {
	var lastErr error
	for _, idxType := range []string{"uint256", "int128"} {
		parsed, err := abi.JSON(strings.NewReader(fmt.Sprintf(poolABITemplate, idxType, idxType)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrQuery, err)
		}
		r := &PoolReader{client: client, address: address, abi: parsed}
		if _, err := r.Balances(ctx, 0); err == nil {
			return r, nil
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("%w: %s answers neither ABI variant: %s", ErrQuery, address.Hex(), lastErr)
}

// Balances reads the raw balance of coin i.
func (r *PoolReader) Balances(ctx context.Context, i int) (*big.Int, error) {
	out, err := r.client.call(ctx, r.address, r.abi, "balances", big.NewInt(int64(i)))
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// A reads the contract-scaled amplification coefficient.
func (r *PoolReader) A(ctx context.Context) (*big.Int, error) {
	out, err := r.client.call(ctx, r.address, r.abi, "A")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Fee reads the swap fee (10^10 denominator).
func (r *PoolReader) Fee(ctx context.Context) (*big.Int, error) {
	out, err := r.client.call(ctx, r.address, r.abi, "fee")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// VirtualPrice reads get_virtual_price.
func (r *PoolReader) VirtualPrice(ctx context.Context) (*big.Int, error) {
	out, err := r.client.call(ctx, r.address, r.abi, "get_virtual_price")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Coins reads the address of coin i.
func (r *PoolReader) Coins(ctx context.Context, i int) (common.Address, error) {
	out, err := r.client.call(ctx, r.address, r.abi, "coins", big.NewInt(int64(i)))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// TokenRate reads the live rate of a rebasing token: exchangeRateStored
// for compound-style ("c"), getPricePerFullShare for yearn-style ("y").
func (c *Client) TokenRate(ctx context.Context, tokenType string, token common.Address) (*big.Int, error) {
	var (
		raw    string
		method string
	)
	switch tokenType {
	case "c":
		raw, method = ctokenABI, "exchangeRateStored"
	case "y":
		raw, method = ytokenABI, "getPricePerFullShare"
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", ErrQuery, tokenType)
	}
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQuery, err)
	}
	out, err := c.call(ctx, token, parsed, method)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}
