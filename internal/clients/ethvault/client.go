package ethvault

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	vcommon "github.com/bobmcallan/vaultsync/internal/common"
	"github.com/bobmcallan/vaultsync/internal/interfaces"
)

const rawLogBuffer = 64

// Client implements interfaces.VaultEventSource over a websocket RPC endpoint.
// Every subscription dials a fresh connection so a dead socket is never reused.
type Client struct {
	rpcURL  string
	vault   common.Address
	decoder *Decoder
	logger  *vcommon.Logger

	mu  sync.Mutex
	eth *ethclient.Client
}

// NewClient validates the vault address and prepares the ABI decoder.
func NewClient(rpcURL, vaultAddress string, logger *vcommon.Logger) (*Client, error) {
	if !common.IsHexAddress(vaultAddress) {
		return nil, errors.Errorf("invalid vault address %q", vaultAddress)
	}
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Client{
		rpcURL:  rpcURL,
		vault:   common.HexToAddress(vaultAddress),
		decoder: decoder,
		logger:  logger,
	}, nil
}

func (c *Client) redial(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	eth, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial ethereum rpc")
	}
	c.eth = eth
	return eth, nil
}

func (c *Client) current() *ethclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eth
}

// SubscribeVaultLogs opens a log filter on the vault and forwards decoded logs to sink.
func (c *Client) SubscribeVaultLogs(ctx context.Context, sink chan<- interfaces.VaultLog) (interfaces.Subscription, error) {
	eth, err := c.redial(ctx)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.vault},
		Topics:    [][]common.Hash{c.decoder.Topics()},
	}
	raw := make(chan types.Log, rawLogBuffer)
	sub, err := eth.SubscribeFilterLogs(ctx, query, raw)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe vault logs")
	}

	s := &subscription{
		inner: sub,
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
	go s.forward(raw, sink, c.decoder, c.logger)
	return s, nil
}

// BlockTimestamp returns the unix timestamp of a block.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	eth := c.current()
	if eth == nil {
		return 0, errors.New("ethereum client not connected")
	}
	header, err := eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, errors.Wrapf(err, "header for block %d", blockNumber)
	}
	return int64(header.Time), nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

var _ interfaces.VaultEventSource = (*Client)(nil)
