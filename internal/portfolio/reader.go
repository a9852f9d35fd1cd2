package portfolio

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// EVMReader reads balances over JSON-RPC. Each chain's endpoints are tried
// in order (override first, then the registry's primary and fallbacks); the
// first endpoint that answers is cached for the process lifetime.
type EVMReader struct {
	rpcOverrides map[int64]string
	erc20        abi.ABI
	dial         func(ctx context.Context, rawURL string) (*ethclient.Client, error)

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

func NewEVMReader(rpcOverrides map[int64]string) (*EVMReader, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &EVMReader{
		rpcOverrides: rpcOverrides,
		erc20:        parsed,
		dial: func(ctx context.Context, rawURL string) (*ethclient.Client, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
		clients: make(map[int64]*ethclient.Client),
	}, nil
}

func (r *EVMReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = make(map[int64]*ethclient.Client)
}

func (r *EVMReader) NativeBalance(ctx context.Context, chainID int64, address string) (*big.Int, error) {
	var balance *big.Int
	err := r.withClient(ctx, chainID, func(client *ethclient.Client) error {
		b, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

func (r *EVMReader) TokenBalance(ctx context.Context, chainID int64, tokenAddress, address string) (*big.Int, error) {
	input, err := r.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	token := common.HexToAddress(tokenAddress)

	var balance *big.Int
	err = r.withClient(ctx, chainID, func(client *ethclient.Client) error {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
		if err != nil {
			return err
		}
		results, err := r.erc20.Unpack("balanceOf", out)
		if err != nil {
			return fmt.Errorf("unpack balanceOf: %w", err)
		}
		b, ok := results[0].(*big.Int)
		if !ok {
			return fmt.Errorf("balanceOf returned unexpected type")
		}
		balance = b
		return nil
	})
	return balance, err
}

// withClient runs fn against the chain's cached connection, or walks the
// endpoint list until one serves the call. A connection that fails mid-call
// is dropped so the next call re-dials.
func (r *EVMReader) withClient(ctx context.Context, chainID int64, fn func(*ethclient.Client) error) error {
	r.mu.Lock()
	cached := r.clients[chainID]
	r.mu.Unlock()

	if cached != nil {
		if err := fn(cached); err == nil {
			return nil
		}
		r.mu.Lock()
		if r.clients[chainID] == cached {
			cached.Close()
			delete(r.clients, chainID)
		}
		r.mu.Unlock()
	}

	urls, err := registry.ResolveRPCURLs(r.rpcOverrides[chainID], chainID)
	if err != nil {
		return cperr.Wrap(cperr.CodeUsage, fmt.Sprintf("no RPC endpoint known for chain %d", chainID), err)
	}

	var lastErr error
	for _, u := range urls {
		client, err := r.dial(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		if err := fn(client); err != nil {
			client.Close()
			lastErr = err
			continue
		}
		r.mu.Lock()
		r.clients[chainID] = client
		r.mu.Unlock()
		return nil
	}
	return cperr.Wrap(cperr.CodeUnavailable,
		fmt.Sprintf("all RPC endpoints for chain %d failed", chainID), lastErr)
}

var _ ChainReader = (*EVMReader)(nil)
