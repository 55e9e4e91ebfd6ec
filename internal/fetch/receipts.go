package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/treasury-functions/internal/types"
)

// receiptBackend is the subset of ethclient.Client used for lookups
type receiptBackend interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// dialFunc connects to an RPC endpoint
type dialFunc func(ctx context.Context, rawURL string) (receiptBackend, error)

func dialEthClient(ctx context.Context, rawURL string) (receiptBackend, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// EthReceiptClient resolves transaction receipts on any registered network.
// One RPC client is dialed lazily per chain and reused.
type EthReceiptClient struct {
	dial dialFunc

	mu      sync.Mutex
	clients map[types.ChainID]receiptBackend
}

// NewEthReceiptClient creates a receipt client that dials networks on first use
func NewEthReceiptClient() *EthReceiptClient {
	return &EthReceiptClient{
		dial:    dialEthClient,
		clients: make(map[types.ChainID]receiptBackend),
	}
}

// TransactionReceipt returns the receipt for hash on network, or nil with no
// error when the transaction has not been mined yet.
func (c *EthReceiptClient) TransactionReceipt(ctx context.Context, network types.Network, hash common.Hash) (*ethtypes.Receipt, error) {
	client, err := c.client(ctx, network)
	if err != nil {
		return nil, err
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s on %s: %w", hash.Hex(), network.Name, err)
	}
	return receipt, nil
}

func (c *EthReceiptClient) client(ctx context.Context, network types.Network) (receiptBackend, error) {
	id := network.ChainID.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[id]; ok {
		return client, nil
	}

	client, err := c.dial(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", network.Name, err)
	}
	logrus.Debugf("Connected to %s RPC", network.Name)
	c.clients[id] = client
	return client, nil
}
