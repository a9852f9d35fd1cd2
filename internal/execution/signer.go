package execution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// Transaction is the chain-agnostic submission payload a signer accepts.
type Transaction struct {
	ChainID int64
	To      string
	Data    string
	Value   *big.Int
}

// Signer is the wallet capability interface. The executor never sees key
// material, only this surface.
type Signer interface {
	Address() string
	ChainID(ctx context.Context) (int64, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	SendTransaction(ctx context.Context, tx Transaction) (string, error)
}

// ChainSwitcher is the optional out-of-band chain-switch hook. Signers that
// cannot switch stay pinned and the executor reports ChainMismatch instead.
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID int64) error
}

// LocalSigner signs with an in-process private key and submits through the
// registry's RPC endpoints. Nonce sequencing is left to the node; the signer
// only guarantees one chain at a time.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu           sync.Mutex
	chainID      int64
	client       *ethclient.Client
	rpcOverrides map[int64]string
	dial         func(ctx context.Context, rawURL string) (*ethclient.Client, error)
}

func NewLocalSigner(hexKey string, chainID int64, rpcOverrides map[int64]string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, cperr.Wrap(cperr.CodeUsage, "invalid private key", err)
	}
	return &LocalSigner{
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		rpcOverrides: rpcOverrides,
		dial: func(ctx context.Context, rawURL string) (*ethclient.Client, error) {
			return ethclient.DialContext(ctx, rawURL)
		},
	}, nil
}

func (s *LocalSigner) Address() string { return s.address.Hex() }

func (s *LocalSigner) ChainID(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID, nil
}

// SwitchChain re-points the signer at another network and drops the old
// connection.
func (s *LocalSigner) SwitchChain(_ context.Context, chainID int64) error {
	if _, ok := registry.ChainByID(chainID); !ok {
		return cperr.New(cperr.CodeUsage, fmt.Sprintf("unknown chain id %d", chainID))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != chainID && s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.chainID = chainID
	return nil
}

func (s *LocalSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	digest := accounts.TextHash(message)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, cperr.Wrap(cperr.CodeExecutionFailed, "sign message", err)
	}
	return sig, nil
}

func (s *LocalSigner) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ChainID != s.chainID {
		return "", cperr.New(cperr.CodeChainMismatch,
			fmt.Sprintf("signer is on chain %d, transaction targets chain %d", s.chainID, tx.ChainID)).
			WithHint("switch the signer's network before submitting")
	}

	client, err := s.connect(ctx)
	if err != nil {
		return "", err
	}

	to := common.HexToAddress(tx.To)
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	var data []byte
	if tx.Data != "" {
		data, err = hexutil.Decode(tx.Data)
		if err != nil {
			return "", cperr.Wrap(cperr.CodeUsage, "transaction calldata is not valid hex", err)
		}
	}

	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", cperr.Wrap(cperr.CodeUnavailable, "fetch pending nonce", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", cperr.Wrap(cperr.CodeUnavailable, "fetch gas price", err)
	}
	gasLimit, err := client.EstimateGas(ctx, buildCallMsg(s.address, to, value, data))
	if err != nil {
		return "", cperr.Wrap(cperr.CodeExecutionFailed, "gas estimation rejected the transaction", err)
	}

	raw := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(raw, types.LatestSignerForChainID(big.NewInt(tx.ChainID)), s.key)
	if err != nil {
		return "", cperr.Wrap(cperr.CodeExecutionFailed, "sign transaction", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", cperr.Wrap(cperr.CodeExecutionFailed, "submit transaction", err)
	}
	return signed.Hash().Hex(), nil
}

// connect dials the first reachable RPC endpoint for the current chain,
// preferring a configured override.
func (s *LocalSigner) connect(ctx context.Context) (*ethclient.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	override := s.rpcOverrides[s.chainID]
	urls, err := registry.ResolveRPCURLs(override, s.chainID)
	if err != nil {
		return nil, cperr.Wrap(cperr.CodeUsage, fmt.Sprintf("no RPC endpoint known for chain %d", s.chainID), err)
	}
	var lastErr error
	for _, u := range urls {
		client, err := s.dial(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		s.client = client
		return client, nil
	}
	return nil, cperr.Wrap(cperr.CodeUnavailable,
		fmt.Sprintf("all RPC endpoints for chain %d failed", s.chainID), lastErr)
}

func buildCallMsg(from, to common.Address, value *big.Int, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}
}

var (
	_ Signer        = (*LocalSigner)(nil)
	_ ChainSwitcher = (*LocalSigner)(nil)
)
