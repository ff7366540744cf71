// Package ethrpc is the signing/broadcast subsystem and ledger reader backed
// by a JSON-RPC node.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/treasurechest/internal/contract"
	"github.com/alanyoungcy/treasurechest/internal/crypto"
	"github.com/alanyoungcy/treasurechest/internal/domain"
	"github.com/alanyoungcy/treasurechest/internal/txlifecycle"
)

// Backend is the subset of the Ethereum RPC the client uses.
// *ethclient.Client satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to a JSON-RPC endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errors.New("ethrpc: endpoint required")
	}
	c, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: dial: %w", err)
	}
	return c, nil
}

// statusBuffer bounds each raw status stream.
const statusBuffer = 8

// gasHeadroom is the percentage added to the node's gas estimate.
const gasHeadroom = 20

// Client reads the ledger and, when it has a signer, broadcasts payloads.
type Client struct {
	backend      Backend
	signer       *crypto.Signer
	encoder      *contract.Encoder
	pollInterval time.Duration
	logger       *slog.Logger

	// sendMu serializes nonce selection and broadcast.
	sendMu sync.Mutex
}

// NewClient creates a Client for the contract enc builds calls against.
// signer may be nil, in which case Broadcast always reports an error.
func NewClient(backend Backend, signer *crypto.Signer, enc *contract.Encoder, pollInterval time.Duration, logger *slog.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		backend:      backend,
		signer:       signer,
		encoder:      enc,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "ethrpc")),
	}
}

// BlockNumber returns the current ledger height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: block number: %w", err)
	}
	return n, nil
}

// BalanceAt returns the latest balance of account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: balance: %w", err)
	}
	return bal, nil
}

// Owner calls the contract's owner() view.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	call := c.encoder.EncodeOwner()
	ret, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &call.To, Data: call.Data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("ethrpc: owner: %w", err)
	}
	return contract.DecodeOwner(ret)
}

// Broadcast signs and sends p, then polls for its receipt. The returned
// stream reports building, one pending status per poll, and finally success
// with the receipt or an error; it is closed after the terminal status.
func (c *Client) Broadcast(ctx context.Context, p domain.Payload) <-chan txlifecycle.Status {
	out := make(chan txlifecycle.Status, statusBuffer)
	go func() {
		defer close(out)
		c.run(ctx, p, out)
	}()
	return out
}

func (c *Client) run(ctx context.Context, p domain.Payload, out chan<- txlifecycle.Status) {
	send := func(st txlifecycle.Status) bool {
		select {
		case out <- st:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(txlifecycle.Status{Name: txlifecycle.StatusBuilding}) {
		return
	}
	tx, err := c.sendTx(ctx, p)
	if err != nil {
		c.logger.WarnContext(ctx, "broadcast failed", slog.String("error", err.Error()))
		send(txlifecycle.Status{Name: txlifecycle.StatusError, Err: err})
		return
	}
	hash := tx.Hash()
	c.logger.InfoContext(ctx, "transaction broadcast",
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if !send(txlifecycle.Status{Name: txlifecycle.StatusPending, TxHash: hash}) {
			return
		}
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			c.logger.InfoContext(ctx, "transaction mined",
				slog.String("tx_hash", hash.Hex()),
				slog.Uint64("status", receipt.Status),
			)
			if receipt.Status != types.ReceiptStatusSuccessful {
				send(txlifecycle.Status{Name: txlifecycle.StatusError, TxHash: hash, Err: fmt.Errorf("transaction %s reverted", hash.Hex())})
				return
			}
			send(txlifecycle.Status{Name: txlifecycle.StatusSuccess, TxHash: hash, Receipts: []*types.Receipt{receipt}})
			return
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.DebugContext(ctx, "receipt poll failed", slog.String("tx_hash", hash.Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) sendTx(ctx context.Context, p domain.Payload) (*types.Transaction, error) {
	if c.signer == nil {
		return nil, errors.New("ethrpc: no signing key configured")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	value := p.Value
	if value == nil {
		value = new(big.Int)
	}
	to := p.To
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: p.Data})
	if err != nil {
		return nil, fmt.Errorf("ethrpc: estimate gas: %w", err)
	}
	gas += gas * gasHeadroom / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      p.Data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("ethrpc: send: %w", err)
	}
	return signed, nil
}
